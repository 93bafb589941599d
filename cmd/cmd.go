package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/twpayne/go-vfs"
	"k8s.io/klog/klogr"

	"github.com/homelab-ops/mirrorsync/pkg/buildbackend"
	"github.com/homelab-ops/mirrorsync/pkg/fetch"
	"github.com/homelab-ops/mirrorsync/pkg/gitops"
	"github.com/homelab-ops/mirrorsync/pkg/gitrepo"
	"github.com/homelab-ops/mirrorsync/pkg/imagesync"
	"github.com/homelab-ops/mirrorsync/pkg/loginfra"
	"github.com/homelab-ops/mirrorsync/pkg/objstore"
	"github.com/homelab-ops/mirrorsync/pkg/oci"
	"github.com/homelab-ops/mirrorsync/pkg/publisher"
	"github.com/homelab-ops/mirrorsync/pkg/syncer"
	"github.com/homelab-ops/mirrorsync/pkg/upstream"
	"github.com/homelab-ops/mirrorsync/pkg/versionfile"
)

func Execute() {
	log := klogr.New()

	var (
		configFile string
		project    string
		timeout    time.Duration
	)

	cmd := cobra.Command{
		Use:   "mirrorsync",
		Short: "Mirror upstream container releases into a private registry",
	}

	sync := &cobra.Command{
		Use:   "sync",
		Short: "Sync every configured project and publish version-bump PRs",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := syncer.LoadConfig(vfs.HostOSFS, configFile)
			if err != nil {
				return err
			}

			projects := conf.Projects
			if project != "" {
				projects = nil
				for _, p := range conf.Projects {
					if p.Name == project {
						projects = append(projects, p)
					}
				}
				if len(projects) == 0 {
					return fmt.Errorf("no project named %q in %s", project, configFile)
				}
			}

			ctx := context.Background()

			o, err := buildOrchestrator(ctx, log, conf, timeout)
			if err != nil {
				return err
			}

			results := o.RunAll(ctx, projects)

			failed := 0
			for _, r := range results {
				fmt.Fprintln(cmd.OutOrStdout(), r.String())
				if r.Outcome == syncer.OutcomeFailed {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d projects failed", failed, len(results))
			}
			return nil
		},
	}
	sync.Flags().StringVarP(&configFile, "config", "c", syncer.DefaultConfigFile, "path to the project configuration")
	sync.Flags().StringVar(&project, "project", "", "sync only the named project")
	sync.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "per-project time limit; 0 disables it")
	cmd.AddCommand(sync)

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without contacting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := syncer.LoadConfig(vfs.HostOSFS, configFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d projects ok\n", configFile, len(conf.Projects))
			return nil
		},
	}
	validate.Flags().StringVarP(&configFile, "config", "c", syncer.DefaultConfigFile, "path to the project configuration")
	cmd.AddCommand(validate)

	cmd.SilenceErrors = true

	fs := loginfra.Init()

	// Hand parsing of remaining flags to pflags and cobra
	pflag.CommandLine.AddGoFlagSet(fs)

	if err := cmd.Execute(); err != nil {
		log.Error(err, err.Error())
		os.Exit(1)
	}
}

func buildOrchestrator(ctx context.Context, log logr.Logger, conf *syncer.Config, timeout time.Duration) (*syncer.Orchestrator, error) {
	resolver, err := upstream.New(upstream.Logger(log))
	if err != nil {
		return nil, err
	}

	store := versionfile.New(versionfile.Dir(conf.VersionsDir))

	var ociOpts []oci.Option
	if u := os.Getenv("REGISTRY_USERNAME"); u != "" {
		ociOpts = append(ociOpts, oci.WithBasicAuth(u, os.Getenv("REGISTRY_PASSWORD")))
	}

	dispatchOpts := []imagesync.Option{
		imagesync.Logger(log),
		imagesync.Registry(oci.New(ociOpts...)),
		imagesync.Builder(buildbackend.New(buildbackend.Logger(log))),
	}

	if conf.ObjectStorage != nil {
		objects, err := objstore.New(ctx, objstore.Config{
			Endpoint:  conf.ObjectStorage.Endpoint,
			Region:    conf.ObjectStorage.Region,
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		})
		if err != nil {
			return nil, err
		}
		dispatchOpts = append(dispatchOpts,
			imagesync.Store(objects),
			imagesync.Fetcher(fetch.New(fetch.Logger(log))),
		)
	}

	dispatcher, err := imagesync.New(conf.Registry, conf.Namespace, dispatchOpts...)
	if err != nil {
		return nil, err
	}

	pub, err := publisher.New(store, gitops.New(), gitrepo.NewClient(ctx), conf.BaseBranch, publisher.Logger(log))
	if err != nil {
		return nil, err
	}

	return syncer.New(resolver, store, dispatcher, pub,
		syncer.Logger(log),
		syncer.Timeout(timeout),
	)
}
