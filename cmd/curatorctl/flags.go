package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	curator "github.com/tensorzero/curator/sdk/go/curator"
)

// pageFlags are the keyset cursor flags shared by every list command.
type pageFlags struct {
	before   string
	after    string
	pageSize int
}

func (f *pageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.before, "before", "", "Return records older than this id")
	cmd.Flags().StringVar(&f.after, "after", "", "Return records newer than this id")
	cmd.Flags().IntVarP(&f.pageSize, "page-size", "n", 0, "Records per page (server default when unset)")
	cmd.MarkFlagsMutuallyExclusive("before", "after")
}

func (f *pageFlags) options() (*curator.PageOptions, error) {
	before, err := optionalUUID("before", f.before)
	if err != nil {
		return nil, err
	}
	after, err := optionalUUID("after", f.after)
	if err != nil {
		return nil, err
	}
	return &curator.PageOptions{Before: before, After: after, PageSize: f.pageSize}, nil
}

func optionalUUID(name, s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("--%s: %q is not a valid id", name, s)
	}
	return &u, nil
}

func requireUUID(name, s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %q is not a valid id", name, s)
	}
	return u, nil
}

// curationFlags describe a curation request.
type curationFlags struct {
	metric     string
	threshold  float64
	maxSamples int
}

func (f *curationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.metric, "metric", "m", "", "Metric that selects good examples (omit to keep everything)")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "Cutoff for float metrics (strict comparison)")
	cmd.Flags().IntVar(&f.maxSamples, "max-samples", 0, "Keep at most this many of the newest examples")
}

func (f *curationFlags) request(cmd *cobra.Command, function string) curator.CurationRequest {
	req := curator.CurationRequest{FunctionName: function, MetricName: f.metric}
	if cmd.Flags().Changed("threshold") {
		threshold := f.threshold
		req.Threshold = &threshold
	}
	if cmd.Flags().Changed("max-samples") {
		maxSamples := f.maxSamples
		req.MaxSamples = &maxSamples
	}
	return req
}
