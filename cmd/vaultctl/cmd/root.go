package cmd

import ("fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/koofr/vault-core/internal/constants"
	"github.com/koofr/vault-core/internal/version")

// globalFlags mirrors root.go persistent-flag struct
// (internal/cli/root.go), trimmed to what a single-repo reference CLI
// needs: which repo to open, how to unlock it, and where its ciphertext
// actually lives.
type globalFlags struct {
	repoID string
	mountID string
	rootPath string
	passphrase string
	yes bool
	verbose bool
	logFile bool

	maxConcurrent int
	autosaveInterval time.Duration

	mountKind string
	s3Bucket string
	s3Region string
	s3Prefix string
	s3AccessKeyID string
	s3SecretAccessKey string
	s3SessionToken string
	azureSASURL string
	azureContainer string
	azurePrefix string
}

// NewRootCmd builds the vaultctl command tree: a root command carrying
// shared flags plus leaf commands doing the actual work, trimmed of the
// FIPS-status/completion-script/thread-control flags that
// don't apply to this module's domain.
func NewRootCmd() *cobra.Command {
	f := &globalFlags{}

	root := &cobra.Command{
		Use: "vaultctl",
		Short: "Reference CLI for the vault-core encrypted transfer engine",
		Version: version.Version,
		SilenceUsage: true,
		SilenceErrors: false,
		PersistentPreRunE: func(cc *cobra.Command, args []string) error {
			return validateMaxConcurrent(f.maxConcurrent)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.repoID, "repo-id", "demo-repo", "logical repo identifier")
	pf.StringVar(&f.mountID, "mount-id", "demo-mount", "logical mount identifier for the repo's ciphertext")
	pf.StringVar(&f.rootPath, "root-path", "/", "root path within the mount the repo is scoped to")
	pf.StringVar(&f.passphrase, "passphrase", "", "passphrase the repo's AES key is derived from (required)")
	pf.BoolVarP(&f.yes, "yes", "y", false, "assume yes / use the non-interactive dialog for every prompt")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&f.logFile, "log-file", false, "also write logs to the per-user log directory")
	pf.IntVar(&f.maxConcurrent, "max-concurrent", constants.DefaultMaxConcurrent, "max concurrent transfer attempts")
	pf.DurationVar(&f.autosaveInterval, "autosave-interval", constants.DefaultAutosaveIntervalSeconds*time.Second, "details autosave interval")

	pf.StringVar(&f.mountKind, "mount", "memory", "blob storage backend: memory, s3, or azure")
	pf.StringVar(&f.s3Bucket, "s3-bucket", "", "s3 mount: bucket name")
	pf.StringVar(&f.s3Region, "s3-region", "", "s3 mount: region")
	pf.StringVar(&f.s3Prefix, "s3-prefix", "", "s3 mount: key prefix")
	pf.StringVar(&f.s3AccessKeyID, "s3-access-key-id", "", "s3 mount: access key id")
	pf.StringVar(&f.s3SecretAccessKey, "s3-secret-access-key", "", "s3 mount: secret access key")
	pf.StringVar(&f.s3SessionToken, "s3-session-token", "", "s3 mount: session token")
	pf.StringVar(&f.azureSASURL, "azure-sas-url", "", "azure mount: account/container SAS URL")
	pf.StringVar(&f.azureContainer, "azure-container", "", "azure mount: container name")
	pf.StringVar(&f.azurePrefix, "azure-prefix", "", "azure mount: blob prefix")

	root.AddCommand(newUploadCmd(f),
		newDownloadCmd(f),
		newEditCmd(f),
		newTransfersCmd(f))

	return root
}

// validateMaxConcurrent enforces the bounds constants.MinMaxConcurrent/
// MaxMaxConcurrent name, so a mistyped --max-concurrent fails fast instead
// of silently clamping or starting the engine's worker pool with zero
// workers.
func validateMaxConcurrent(n int) error {
	if n < constants.MinMaxConcurrent || n > constants.MaxMaxConcurrent {
		return fmt.Errorf("--max-concurrent must be between %d and %d, got %d",
			constants.MinMaxConcurrent, constants.MaxMaxConcurrent, n)
	}
	return nil
}
