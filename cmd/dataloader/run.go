package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"dataloader/internal/assoc"
	"dataloader/internal/config"
	"dataloader/internal/datasource/file"
	"dataloader/internal/engine"
	"dataloader/internal/entity"
	csvin "dataloader/internal/input/csv"
	"dataloader/internal/journal"
	"dataloader/internal/lookup"
	"dataloader/internal/meta"
	"dataloader/internal/record"
	"dataloader/internal/remote"
	"dataloader/internal/remote/restapi"
	"dataloader/internal/result"
	"dataloader/internal/task"

	_ "dataloader/internal/journal/all"
)

// newTransport is a test hook.
var newTransport = func(cfg restapi.Config) (remote.Transport, error) {
	return restapi.NewClient(cfg)
}

// run wires every component for one validated run and processes the input.
// The totals line is written to out.
func run(ctx context.Context, r config.Run, out io.Writer) (result.Snapshot, error) {
	logger := log.Default()
	reg := entity.DefaultRegistry()
	et, ok := reg.Lookup(r.Entity)
	if !ok {
		return result.Snapshot{}, fmt.Errorf("unknown entity type %q", r.Entity)
	}

	timeout, err := r.Remote.TimeoutDuration()
	if err != nil {
		return result.Snapshot{}, fmt.Errorf("remote timeout: %w", err)
	}
	tr, err := newTransport(restapi.Config{
		BaseURL:            r.Remote.RestURL,
		Token:              r.Remote.Token,
		Timeout:            timeout,
		MaxRetries:         r.Remote.MaxRetries,
		InsecureSkipVerify: r.Remote.InsecureSkipVerify,
	})
	if err != nil {
		return result.Snapshot{}, fmt.Errorf("remote transport: %w", err)
	}

	client := remote.NewClient(tr, remote.Options{
		PageSize:   r.Sync.PageSize,
		MaxRecords: r.Sync.MaxRecords,
		ChunkSize:  r.Sync.AssociationChunk,
		Job:        r.Job,
		Logger:     logger,
	})
	catalog := meta.NewCatalog(client, logger)
	mapper := record.NewMapper(catalog, r.Sync.ExistFields, logger)
	loader := lookup.NewLoader(lookup.New(), r.Job)
	reconciler := assoc.New(client, !r.Sync.ProcessEmptyAssociations, r.Job)
	runner := task.NewRunner(task.Config{
		Delimiter:    r.Sync.ListDelimiter,
		ProcessEmpty: r.Sync.ProcessEmptyAssociations,
		Wildcard:     r.Sync.WildcardMatching,
		DateLayout:   r.Sync.DateFormat,
	}, mapper, client, loader, reconciler, reg,
		task.WithCountries(record.NewCountryPreloader(client.Countries)),
		task.WithLogger(logger),
	)

	opts := engine.Options{
		Job:     r.Job,
		Command: engine.Command(r.Command),
		Workers: r.Runtime.Workers,
		Logger:  logger,
		Resume:  r.Journal.Resume,
	}
	if r.Remote.CompleteCall {
		opts.Completer = client
	}
	if r.Journal.Kind != "" {
		j, err := journal.Open(ctx, journal.Config{Kind: r.Journal.Kind, DSN: r.Journal.DSN})
		if err != nil {
			return result.Snapshot{}, fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		opts.Journal = j
	}

	rows, err := csvin.Open(ctx, file.NewLocal(r.Source.File.Path), r.Parser.Options)
	if err != nil {
		return result.Snapshot{}, err
	}
	defer rows.Close()

	// Result files open last so a failed setup leaves none behind.
	if r.Results.Dir != "" {
		sink, err := engine.CreateCSVSink(r.Results.Dir, r.Results.Prefix)
		if err != nil {
			return result.Snapshot{}, err
		}
		opts.Sinks = append(opts.Sinks, sink)
	}

	eng := engine.New(runner, opts)
	snap, _, err := eng.Process(ctx, et, rows)

	hits, misses, fetches := loader.Stats()
	logger.Printf("lookup cache: hits=%d misses=%d fetches=%d; remote calls=%d; schemas fetched=%d",
		hits, misses, fetches, client.Calls(), catalog.Fetches())
	fmt.Fprintf(out, "%s %s: %s\n", r.Command, et.Name, snap)
	return snap, err
}
