package cmds

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/crawlctl/pkg/config"
	"github.com/go-go-golems/crawlctl/pkg/state"
	"github.com/go-go-golems/crawlctl/pkg/supervise"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type rootOptions struct {
	RepoRoot string
	Config   string
	Timeout  time.Duration
}

func AddRootFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.String("repo-root", "", "Repository root (defaults to current directory)")
	flags.String("config", "", "Path to config file (defaults to .crawlctl.yaml under repo-root)")
	flags.Duration("timeout", 60*time.Second, "Default timeout for backend operations")
}

func getRootOptions(cmd *cobra.Command) (rootOptions, error) {
	flags := cmd.Root().PersistentFlags()

	repoRoot, err := stringFlag(flags, "repo-root")
	if err != nil {
		return rootOptions{}, err
	}
	if repoRoot == "" {
		repoRoot, err = os.Getwd()
		if err != nil {
			return rootOptions{}, err
		}
	}
	repoRoot, err = filepath.Abs(repoRoot)
	if err != nil {
		return rootOptions{}, err
	}

	cfgPath, err := stringFlag(flags, "config")
	if err != nil {
		return rootOptions{}, err
	}
	if cfgPath == "" {
		cfgPath = config.DefaultPath(repoRoot)
	} else if !filepath.IsAbs(cfgPath) {
		cfgPath = filepath.Join(repoRoot, cfgPath)
	}

	timeout, err := flags.GetDuration("timeout")
	if err != nil {
		return rootOptions{}, err
	}
	if timeout <= 0 {
		return rootOptions{}, errors.New("timeout must be > 0")
	}

	return rootOptions{RepoRoot: repoRoot, Config: cfgPath, Timeout: timeout}, nil
}

func stringFlag(flags *pflag.FlagSet, name string) (string, error) {
	v, err := flags.GetString(name)
	if err != nil {
		return "", errors.Wrapf(err, "flag %s", name)
	}
	return v, nil
}

func resolveSupervisorConfig(opts rootOptions) (supervise.Config, error) {
	f, err := config.LoadOptional(opts.Config)
	if err != nil {
		return supervise.Config{}, err
	}
	return f.Resolve(opts.RepoRoot)
}

// resolveAPIPort prefers the port recorded at up time over the configured
// one, so client commands hit the backend that is actually running.
func resolveAPIPort(opts rootOptions) (int, error) {
	if st, err := state.Load(opts.RepoRoot); err == nil && st.APIPort > 0 {
		return st.APIPort, nil
	}
	cfg, err := resolveSupervisorConfig(opts)
	if err != nil {
		return 0, err
	}
	return cfg.APIPort, nil
}
