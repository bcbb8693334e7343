package cli

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloudpin/resumable/internal/config"
	"github.com/cloudpin/resumable/internal/events"
	"github.com/cloudpin/resumable/internal/progress"
	"github.com/cloudpin/resumable/internal/protocol"
	"github.com/cloudpin/resumable/internal/session"
	"github.com/cloudpin/resumable/internal/source"
)

func newUploadCmd() *cobra.Command {
	var (
		endpoint   string
		token      string
		name       string
		network    string
		groupID    string
		chunkSize  int64
		maxRetries int
		keyValues  []string
		headers    []string
		noResume   bool
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file as a resumable chunked transfer",
		Long: `Upload a file to the configured endpoint in offset-addressed chunks.
If a previous attempt left resume state behind, the transfer continues
from the last acknowledged byte instead of starting over.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSettings(envFile)
			if err != nil {
				return err
			}
			if endpoint == "" {
				endpoint = settings.Endpoint
			}
			if token == "" {
				token = settings.AuthToken
			}

			kv, err := parsePairs(keyValues)
			if err != nil {
				return fmt.Errorf("bad --keyvalue: %w", err)
			}
			hdrs, err := parsePairs(headers)
			if err != nil {
				return fmt.Errorf("bad --header: %w", err)
			}

			opts := config.UploadOptions{
				Name:          name,
				Network:       network,
				GroupID:       groupID,
				KeyValues:     kv,
				CustomHeaders: hdrs,
				ChunkSize:     chunkSize,
			}
			opts.Retry.MaxRetries = maxRetries

			return runUpload(cmd.Context(), args[0], endpoint, token, opts, !noResume)
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Upload creation endpoint (or "+config.EnvEndpoint+")")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token (or "+config.EnvToken+")")
	cmd.Flags().StringVar(&name, "name", "", "Display name for the object (default: file name)")
	cmd.Flags().StringVar(&network, "network", "public", "Object visibility: public or private")
	cmd.Flags().StringVar(&groupID, "group", "", "Group ID to attach the object to")
	cmd.Flags().Int64Var(&chunkSize, "chunk-size", config.DefaultChunkSize, "Maximum bytes per chunk request")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "Retry attempts per request after the first try")
	cmd.Flags().StringArrayVar(&keyValues, "keyvalue", nil, "Metadata tag as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "Custom request header as key=value (repeatable)")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "Ignore existing resume state and start over")

	return cmd
}

func runUpload(ctx context.Context, path, endpoint, token string, opts config.UploadOptions, allowResume bool) error {
	desc, err := source.NewFileDescriptor(path)
	if err != nil {
		return err
	}

	bus := events.NewBus(0)
	client := protocol.NewClient(&nethttp.Client{}, token, logger)

	sess, restored, err := buildSession(client, endpoint, desc, opts, bus, allowResume)
	if err != nil {
		return err
	}

	var reporter progress.Reporter
	if quiet {
		reporter = progress.NewNoOp()
	} else {
		reporter = progress.NewBar()
	}
	reporter.Start(desc.Size(), desc.Name())
	reporter.Update(sess.Offset())

	eventCh := bus.SubscribeAll()
	observerDone := make(chan struct{})
	go observe(eventCh, reporter, observerDone)

	// A signal cancels the session at its next checkpoint; the current
	// chunk request still runs to completion.
	go func() {
		<-ctx.Done()
		sess.Cancel()
	}()

	if restored {
		logger.Info().Str("file", path).Int64("offset", sess.Offset()).Msg("resuming interrupted upload")
		err = sess.Resume(context.Background())
	} else {
		err = sess.Start(context.Background())
	}

	bus.Close()
	<-observerDone

	switch sess.State() {
	case session.StateCompleted:
		cid, _ := sess.Result()
		if cid == "" {
			cid = "(unknown)"
		}
		fmt.Fprintf(os.Stdout, "%s\n", cid)
		return nil
	case session.StateCancelled:
		logger.Info().Str("file", path).Msg("upload cancelled")
		return nil
	default:
		return err
	}
}

// buildSession restores from a valid resume sidecar when allowed,
// otherwise creates a fresh session.
func buildSession(client *protocol.Client, endpoint string, desc source.Descriptor, opts config.UploadOptions, bus *events.Bus, allowResume bool) (*session.Session, bool, error) {
	sidecar := session.ResumeStatePath(desc.Path())
	if !allowResume {
		_ = session.DeleteResumeState(sidecar)
	}

	st, err := session.LoadResumeState(sidecar)
	if allowResume && err == nil && st != nil {
		if verr := session.ValidateResumeState(st, desc.Path()); verr == nil {
			sess, rerr := session.Restore(client, desc, st, opts, bus, logger)
			if rerr == nil {
				return sess, true, nil
			}
			logger.Warn().Err(rerr).Msg("resume state unusable, starting over")
		} else {
			logger.Debug().Err(verr).Msg("discarding invalid resume state")
		}
		_ = session.DeleteResumeState(sidecar)
	}

	if endpoint == "" {
		return nil, false, fmt.Errorf("no endpoint configured; set --endpoint or %s", config.EnvEndpoint)
	}
	sess, err := session.New(client, endpoint, desc, opts, bus, logger)
	if err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

// observe consumes session events and drives the progress reporter
// until the bus closes.
func observe(eventCh <-chan events.Event, reporter progress.Reporter, done chan<- struct{}) {
	defer close(done)
	for ev := range eventCh {
		switch e := ev.(type) {
		case *events.ProgressEvent:
			reporter.Update(e.BytesCurrent)
		case *events.CompletedEvent:
			reporter.Finish()
		case *events.FailedEvent:
			reporter.Error(e.Err)
		}
	}
}

// parsePairs parses repeated key=value flags into a map.
func parsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}
