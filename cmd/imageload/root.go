package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	imageloader "github.com/Skryldev/image-loader"
	"github.com/Skryldev/image-loader/adapters/storage"
	"github.com/Skryldev/image-loader/config"
	"github.com/Skryldev/image-loader/core"
	"github.com/Skryldev/image-loader/hooks"
)

// app is the state shared by subcommands, built in PersistentPreRunE.
type app struct {
	v      *viper.Viper
	cfg    config.Config
	log    *hooks.ZapLogger
	loader *imageloader.Loader
}

var state = &app{v: config.NewViper()}

var rootCmd = &cobra.Command{
	Use:           "imageload",
	Short:         "Decode PNG, JPEG and WebP images into raw pixel buffers",
	SilenceUsage:  true,
	SilenceErrors: false,

	// Runs before this command and any subcommands
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return state.init(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if state.log != nil {
			_ = state.log.Sync()
		}
	},
}

func init() {
	pflags := rootCmd.PersistentFlags()
	pflags.String("config-file", "", "Path to a YAML config file")
	pflags.String("env-file", "", "Path to a .env file")
	pflags.String("log-level", "", "Log level: debug, info, warn, error")
	pflags.String("storage", "", "Object store to read from: local or s3")
	pflags.String("root-dir", "", "Root directory for local storage")
	pflags.String("bucket", "", "Bucket for s3 storage")
	pflags.Int("workers", 0, "Concurrent decodes (0 = number of CPUs)")
	pflags.Int64("max-image-bytes", 0, "Refuse inputs larger than this (0 = no limit)")

	// Bind flags to viper keys
	v := state.v
	_ = v.BindPFlag("log_level", pflags.Lookup("log-level"))
	_ = v.BindPFlag("storage", pflags.Lookup("storage"))
	_ = v.BindPFlag("local.root_dir", pflags.Lookup("root-dir"))
	_ = v.BindPFlag("s3.bucket", pflags.Lookup("bucket"))
	_ = v.BindPFlag("worker_count", pflags.Lookup("workers"))
	_ = v.BindPFlag("max_image_bytes", pflags.Lookup("max-image-bytes"))

	rootCmd.AddCommand(infoCmd, rawCmd)
}

func (a *app) init(cmd *cobra.Command) error {
	flags := cmd.Flags()
	configFile, _ := flags.GetString("config-file")
	envFile, _ := flags.GetString("env-file")

	cfg, err := config.LoadViper(a.v, configFile, envFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log, err = hooks.NewZapLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	a.loader = imageloader.New(cfg)
	a.loader.SetLogger(a.log)
	a.loader.AddHook(hooks.NewLoggingHook(a.log))
	return nil
}

// store returns the object store the configuration selects.
func (a *app) store(ctx context.Context) (core.ObjectStore, error) {
	switch a.cfg.Storage {
	case config.StorageS3:
		client, err := storage.NewAWSClient(ctx, a.cfg.S3)
		if err != nil {
			return nil, err
		}
		return storage.NewS3(client, a.cfg.S3.Bucket)
	default:
		return storage.NewLocal(a.cfg.Local.RootDir)
	}
}
