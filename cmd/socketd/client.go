package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/socketd-go/socketd"
	"github.com/socketd-go/socketd/internal/config"
	"github.com/socketd-go/socketd/internal/errors"
	"github.com/socketd-go/socketd/pkg/client"
	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/protocol"
)

// clientOptions are the flags shared by send, request and subscribe.
type clientOptions struct {
	url     string
	timeout time.Duration
	at      string
	meta    []string
	file    string
}

func (o *clientOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.url, "url", "u", "", "Server URL, e.g. sd:tcp://127.0.0.1:8602/ (default from config)")
	cmd.Flags().DurationVarP(&o.timeout, "timeout", "t", 0, "Reply timeout (default from config)")
	cmd.Flags().StringVar(&o.at, "at", "", "Address a named peer (name) or group (name*) through a broker")
	cmd.Flags().StringArrayVarP(&o.meta, "meta", "m", nil, "Meta pair key=value (repeatable)")
	cmd.Flags().StringVarP(&o.file, "file", "f", "", "Send the content of a file instead of [data]")
}

// entity builds the payload from the positional data or --file.
func (o *clientOptions) entity(args []string) (*protocol.Entity, error) {
	var e *protocol.Entity
	switch {
	case o.file != "" && len(args) > 1:
		return nil, errors.New("E140").WithDetail("pass either [data] or --file, not both")
	case o.file != "":
		fe, err := protocol.NewFileEntity(o.file)
		if err != nil {
			return nil, errors.New("E140").WithDetail(err.Error())
		}
		e = fe
	case len(args) > 1:
		e = protocol.NewStringEntity(args[1])
	default:
		e = protocol.NewEntity()
	}

	for _, kv := range o.meta {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			e.Release()
			return nil, errors.New("E140").WithDetail(fmt.Sprintf("--meta %q is not key=value", kv))
		}
		e.PutMeta(k, v)
	}
	if o.at != "" {
		e.At(o.at)
	}
	return e, nil
}

// open connects to the server named by --url or the config.
func (o *clientOptions) open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core.Session, error) {
	url := o.url
	if url == "" {
		url = cfg.Client.URL
	}

	c, err := socketd.CreateClient(url,
		client.WithConnectTimeout(cfg.Client.ConnectTimeout.Std()),
		client.WithHeartbeatInterval(cfg.Client.HeartbeatInterval.Std()),
		client.WithRequestTimeout(cfg.Client.RequestTimeout.Std()),
		client.WithStreamTimeout(cfg.Client.StreamTimeout.Std()),
		client.WithAutoReconnect(false),
		client.WithFragmentSize(cfg.Fragment.Size),
		client.WithLogger(logger.With("component", "socketd-client")),
	)
	if err != nil {
		if stderrors.Is(err, socketd.ErrUnsupportedScheme) {
			return nil, errors.New("E115").Wrap(err)
		}
		return nil, errors.New("E110").Wrap(err).WithDetail(url)
	}

	s, err := c.Open(ctx)
	if err != nil {
		return nil, errors.FromError(err, "E111")
	}
	return s, nil
}

// clientCommand builds one of the client subcommands. run does the work
// on an open session.
func clientCommand(g *globalOptions, use, short, long string, run func(cmd *cobra.Command, s *core.Session, event string, e *protocol.Entity, timeout time.Duration) error) *cobra.Command {
	var opts clientOptions

	cmd := &cobra.Command{
		Use:   use + " <event> [data]",
		Short: short,
		Long:  long,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			e, err := opts.entity(args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			s, err := opts.open(ctx, cfg, logger)
			if err != nil {
				e.Release()
				return err
			}
			defer s.Close()

			if err := run(cmd, s, args[0], e, opts.timeout); err != nil {
				return errors.FromError(err, "E111")
			}
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}

// printReply writes the payload of msg, followed by a newline, to w.
func printReply(w io.Writer, msg *protocol.Message) error {
	b, err := msg.Entity().Bytes()
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	w.Write(b)
	if b[len(b)-1] != '\n' {
		io.WriteString(w, "\n")
	}
	return nil
}

func sendCmd(g *globalOptions) *cobra.Command {
	return clientCommand(g, "send", "Send a fire-and-forget message",
		`Send a message and exit without waiting for a reply.

Examples:
  socketd send demo hello
  socketd send --url sd:ws://127.0.0.1:8602/ --file report.pdf upload`,
		func(cmd *cobra.Command, s *core.Session, event string, e *protocol.Entity, _ time.Duration) error {
			return s.Send(event, e)
		})
}

func requestCmd(g *globalOptions) *cobra.Command {
	return clientCommand(g, "request", "Send a request and print the reply",
		`Send a request and print its single reply to stdout.

Examples:
  socketd request demo hello
  socketd request --at worker --timeout 5s job.run '{"id":1}'`,
		func(cmd *cobra.Command, s *core.Session, event string, e *protocol.Entity, timeout time.Duration) error {
			reply, err := s.SendAndRequest(cmd.Context(), event, e, timeout)
			if err != nil {
				return err
			}
			return printReply(cmd.OutOrStdout(), reply)
		})
}

func subscribeCmd(g *globalOptions) *cobra.Command {
	return clientCommand(g, "subscribe", "Subscribe and print every reply",
		`Send a subscription and print each reply to stdout until the peer
ends the stream.

Examples:
  socketd subscribe demo hello
  socketd subscribe --at feed* --timeout 1h prices`,
		func(cmd *cobra.Command, s *core.Session, event string, e *protocol.Entity, timeout time.Duration) error {
			done := make(chan error, 1)
			finish := func(err error) {
				select {
				case done <- err:
				default:
				}
			}
			out := cmd.OutOrStdout()

			st, err := s.SendAndSubscribe(event, e, timeout, func(msg *protocol.Message, err error) {
				if err == nil {
					err = printReply(out, msg)
				}
				if err != nil || msg.IsEnd() {
					finish(err)
				}
			})
			if err != nil {
				return err
			}

			select {
			case err := <-done:
				return err
			case <-cmd.Context().Done():
				st.Cancel()
				return nil
			}
		})
}
