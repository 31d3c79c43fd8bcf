package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/voiceq/internal/app"
	"github.com/dgnsrekt/voiceq/internal/queue"
	"github.com/dgnsrekt/voiceq/internal/speechlock"
	"github.com/spf13/cobra"
)

// speakFlags are shared by speak and the per-kind shortcuts.
type speakFlags struct {
	voice    string
	session  string
	priority int
	kind     string
	sync     bool
	summary  bool
	meta     map[string]string
}

var (
	speakCmd = newSpeakCmd("speak", "Queue text to be spoken", queue.KindSpeak, true)

	greetCmd    = newSpeakCmd("greet", "Queue a session greeting", queue.KindGreeting, false)
	completeCmd = newSpeakCmd("complete", "Queue a completion notice", queue.KindCompletion, false)
	errorCmd    = newSpeakCmd("error", "Queue an error notice", queue.KindError, false)
	approveCmd  = newSpeakCmd("approve", "Queue an approval request", queue.KindApproval, false)
)

func newSpeakCmd(use, short string, kind queue.Kind, kindFlag bool) *cobra.Command {
	opts := &speakFlags{}

	cmd := &cobra.Command{
		Use:   use + " [TEXT]",
		Short: short,
		Long: paragraph(fmt.Sprintf("\n%s. Text comes from the arguments or stdin. The command returns as soon as the message is %s; a background worker is started if none is running.",
			short, keyword("queued"))),
		Example: paragraph(fmt.Sprintf("voiceq %s \"Build finished\"\necho \"Tests passed\" | voiceq %s --session $SESSION_ID", use, use)),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := kind
			if kindFlag && opts.kind != "" {
				var err error
				if k, err = queue.ParseKind(opts.kind); err != nil {
					return err
				}
			}
			return runSpeak(cmd, k, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.voice, "voice", "v", "", "preferred voice (nova, alloy, echo, fable, onyx, shimmer)")
	flags.StringVarP(&opts.session, "session", "s", "", "session ID; each session keeps its own voice")
	flags.IntVarP(&opts.priority, "priority", "p", 0, "override the priority of the message kind")
	flags.BoolVar(&opts.sync, "sync", false, "speak now in this process instead of queueing")
	flags.BoolVar(&opts.summary, "summary", false, "append a summary of the recorded task context")
	flags.StringToStringVar(&opts.meta, "meta", nil, "extra metadata as key=value pairs")
	if kindFlag {
		flags.StringVarP(&opts.kind, "kind", "k", "", "message kind: speak, greeting, completion, error or approval")
	}
	return cmd
}

func runSpeak(cmd *cobra.Command, kind queue.Kind, opts *speakFlags, args []string) error {
	text, err := readText(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	if opts.summary {
		if summary := svc.State().Summary(); summary != "" {
			text = strings.TrimRight(text, ". ") + ". " + summary
		}
	}

	if strings.TrimSpace(text) == "" {
		return errors.New("nothing to say")
	}

	ctx := cmd.Context()
	if opts.sync {
		if err := svc.SpeakNow(ctx, text, opts.voice); err != nil && !errors.Is(err, speechlock.ErrTimeout) {
			log.Error("synchronous speech failed", "err", err)
		}
		return nil
	}

	meta := make(map[string]any, len(opts.meta))
	for k, v := range opts.meta {
		meta[k] = v
	}

	if !svc.Announce(ctx, app.Announcement{
		Kind:      kind,
		Text:      text,
		SessionID: opts.session,
		Voice:     opts.voice,
		Priority:  opts.priority,
		Metadata:  meta,
	}) {
		log.Debug("message not queued", "kind", kind)
	}
	return nil
}

// readText joins args, or reads stdin when there are none and stdin is
// not a terminal. A lone "-" also reads stdin.
func readText(args []string, stdin io.Reader) (string, error) {
	if (len(args) == 1 && args[0] == "-") || (len(args) == 0 && !stdinIsTerminal()) {
		b, err := io.ReadAll(io.LimitReader(stdin, 64<<10))
		if err != nil {
			return "", fmt.Errorf("unable to read stdin: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return strings.TrimSpace(strings.Join(args, " ")), nil
}

