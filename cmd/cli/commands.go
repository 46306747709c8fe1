package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/gofulcrum/internal/app"
	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/model"
	httpserver "github.com/and161185/gofulcrum/internal/server/http"
	"github.com/and161185/gofulcrum/internal/service"
)

// syncOrder fetches parents before children; fields and values arrive
// with their forms and records.
var syncOrder = []string{"projects", "forms", "records", "photos", "videos", "audio", "signatures"}

func parseParams(kv []string) (url.Values, error) {
	out := url.Values{}
	for _, p := range kv {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("%w: param %q, want key=value", errs.ErrInvalidParam, p)
		}
		out.Add(strings.TrimSpace(k), v)
	}
	return out, nil
}

func checkFormat(f string) error {
	if f != httpserver.FormatJSON && f != httpserver.FormatRaw {
		return fmt.Errorf("%w: unknown format %q", errs.ErrInvalidParam, f)
	}
	return nil
}

func printer(cmd *cobra.Command, format string) func(*model.Entity) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	return func(e *model.Entity) error {
		return enc.Encode(httpserver.Render(e, format))
	}
}

func newListCmd(o *rootOptions) *cobra.Command {
	var (
		cached bool
		skip   bool
		page   int
		format string
		params []string
	)
	cmd := &cobra.Command{
		Use:   "list <resource>",
		Short: "List entities, one JSON document per line",
		Long: `List entities of a resource.

Without --cached every remote page is walked and each item is fetched in
full and ingested. Pages are numbered from 0; --page N with N > 0 fetches
that page only, 0 walks them all.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if page < 0 {
				return fmt.Errorf("%w: page must not be negative", errs.ErrInvalidParam)
			}
			vals, err := parseParams(params)
			if err != nil {
				return err
			}
			return o.withInstance(cmd, func(ctx context.Context, in *app.Instance) error {
				m, err := in.Registry.Manager(args[0])
				if err != nil {
					return err
				}
				return m.List(ctx, service.ListOptions{
					Cached:         cached,
					Page:           page,
					IgnoreExisting: skip,
					Params:         vals,
				}, printer(cmd, format))
			})
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "read the local cache only")
	cmd.Flags().BoolVar(&skip, "skip-existing", false, "do not refetch ids already cached")
	cmd.Flags().IntVar(&page, "page", 0, "zero-based remote page to fetch alone (0 = all)")
	cmd.Flags().StringVar(&format, "format", httpserver.FormatJSON, "output format: json or raw")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "search param or cached filter, key=value (repeatable)")
	return cmd
}

func newGetCmd(o *rootOptions) *cobra.Command {
	var (
		cached bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "get <resource> <id>",
		Short: "Fetch one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			return o.withInstance(cmd, func(ctx context.Context, in *app.Instance) error {
				m, err := in.Registry.Manager(args[0])
				if err != nil {
					return err
				}
				e, err := m.Get(ctx, args[1], cached)
				if err != nil {
					return err
				}
				return printer(cmd, format)(e)
			})
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "read the local cache only")
	cmd.Flags().StringVar(&format, "format", httpserver.FormatJSON, "output format: json or raw")
	return cmd
}

func newRemoveCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <resource> <id>",
		Short: "Mark a cached entity and its children removed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withInstance(cmd, func(ctx context.Context, in *app.Instance) error {
				m, err := in.Registry.Manager(args[0])
				if err != nil {
					return err
				}
				e, err := m.Remove(ctx, args[1])
				if err != nil {
					return err
				}
				if e == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s is not cached\n", args[0], args[1])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s %s\n", args[0], e.ID)
				return nil
			})
		},
	}
}

func newCreateProjectCmd(o *rootOptions) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create-project <name>",
		Short: "Create a project remotely and cache it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withInstance(cmd, func(ctx context.Context, in *app.Instance) error {
				p, err := in.Registry.Projects().Create(ctx, args[0], description)
				if err != nil {
					return err
				}
				return printer(cmd, httpserver.FormatJSON)(p)
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "project description")
	return cmd
}

func newSyncCmd(o *rootOptions) *cobra.Command {
	var (
		skip, keep bool
		resources  []string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch every remote resource into the cache",
		Long: `Walk projects, forms, records and media in dependency order and ingest
everything the remote returns. Fields and values are written with their
forms and records.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			order, err := selectResources(resources)
			if err != nil {
				return err
			}
			return o.withInstance(cmd, func(ctx context.Context, in *app.Instance) error {
				for _, name := range order {
					m, err := in.Registry.Manager(name)
					if err != nil {
						return err
					}
					start := time.Now()
					var fetched int
					var skipped []string
					err = m.List(ctx, service.ListOptions{IgnoreExisting: skip, Existing: &skipped, KeepRemoved: keep},
						func(*model.Entity) error {
							fetched++
							return nil
						})
					if err != nil {
						return fmt.Errorf("sync %s: %w", name, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d fetched, %d skipped in %s\n",
						name, fetched, len(skipped), time.Since(start).Round(time.Millisecond))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&skip, "skip-existing", false, "do not refetch ids already cached")
	cmd.Flags().BoolVar(&keep, "no-restore", false, "refresh locally removed entities without restoring them")
	cmd.Flags().StringSliceVar(&resources, "resources", nil, "restrict to these resources (default all)")
	return cmd
}

func selectResources(want []string) ([]string, error) {
	if len(want) == 0 {
		return syncOrder, nil
	}
	set := map[string]bool{}
	for _, w := range want {
		set[strings.TrimSpace(w)] = true
	}
	var out []string
	for _, name := range syncOrder {
		if set[name] {
			out = append(out, name)
			delete(set, name)
		}
	}
	if len(set) > 0 {
		rest := make([]string, 0, len(set))
		for name := range set {
			rest = append(rest, name)
		}
		sort.Strings(rest)
		return nil, fmt.Errorf("%w: %s cannot be synced", errs.ErrUnknownResource, strings.Join(rest, ", "))
	}
	return out, nil
}

func newTokenCmd(o *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the list API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(o)
			if err != nil {
				return err
			}
			if cfg.API.TokenKey == "" {
				return errors.New("api.token_key is not configured")
			}
			tok, err := httpserver.IssueToken([]byte(cfg.API.TokenKey), subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
