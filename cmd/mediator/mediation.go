package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/aimediator/mediator/internal/debug"
	"github.com/aimediator/mediator/internal/mediation"
	"github.com/aimediator/mediator/internal/types"
)

var createCmd = &cobra.Command{
	Use:   "create <group> <title...>",
	Short: "Open a new mediation in a group",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, err := parseGroupID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		m, err := a.svc.Create(rootCtx, strings.Join(args[1:], " "), groupID)
		if err != nil {
			return err
		}
		emit(map[string]any{"key": m.ID.JointKey(), "token": m.ID.Token, "title": m.Title},
			"Created mediation %q\n  key: %s\n", m.Title, m.ID.JointKey())
		return nil
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <group> <token> <user> <name...>",
	Short: "Add a participant to an open mediation",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, rest, err := parseMediationID(args)
		if err != nil {
			return err
		}
		if len(rest) < 2 {
			return fmt.Errorf("expected <user> <name>")
		}
		userID, err := parseUserID(rest[0])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		st, err := a.svc.Join(rootCtx, id, userID, strings.Join(rest[1:], " "))
		if err != nil {
			return err
		}
		if st.AlreadyJoined {
			emit(st, "User %d already joined %q\n", userID, st.Title)
			return nil
		}
		emit(st, "Joined %q (%d participants)\n", st.Title, st.ParticipantCount)
		return nil
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <group> <token>",
	Short: "Stop accepting participants",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _, err := parseMediationID(args)
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		title, err := a.svc.Close(rootCtx, id)
		if err != nil {
			return err
		}
		emit(map[string]string{"key": id.JointKey(), "title": title}, "Closed %q\n", title)
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit <group> <token> <user> [text...|-]",
	Short: "Record a participant's perspective",
	Long: `Record a participant's perspective. With no text or "-" the
perspective is read from stdin. Submitting also checks whether every
participant has now spoken and, if so, starts the consultation.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, rest, err := parseMediationID(args)
		if err != nil {
			return err
		}
		if len(rest) == 0 {
			return fmt.Errorf("missing user id")
		}
		userID, err := parseUserID(rest[0])
		if err != nil {
			return err
		}
		text, err := perspectiveText(cmd.InOrStdin(), rest[1:])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		st, err := a.svc.SubmitPerspective(rootCtx, id, userID, text)
		if err != nil {
			return err
		}
		if st.AlreadyStored {
			emit(st, "A perspective for %q is already stored\n", st.Title)
			return nil
		}
		emit(st, "Stored perspective for %q\n", st.Title)
		if !st.MediationClosed {
			return nil
		}
		return runCheck(a, id)
	},
}

func perspectiveText(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read perspective: %w", err)
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return "", fmt.Errorf("empty perspective")
	}
	return text, nil
}

var checkCmd = &cobra.Command{
	Use:   "check <group> <token>",
	Short: "Start the consultation once every participant has spoken",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _, err := parseMediationID(args)
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		return runCheck(a, id)
	},
}

// runCheck runs the completeness check and blocks until any consultation
// it started has delivered.
func runCheck(a *app, id types.MediationID) error {
	var mu sync.Mutex
	answers := make(map[int64]string)
	st, err := a.svc.CheckCompletenessAndConsult(rootCtx, id, func(userID int64, answer string) {
		mu.Lock()
		answers[userID] = answer
		mu.Unlock()
		if !jsonOutput {
			fmt.Fprintf(os.Stdout, "\n--- advice for %d ---\n%s\n", userID, answer)
		}
	})
	if err != nil {
		return err
	}
	a.dispatcher.Wait()

	if jsonOutput {
		outputJSON(map[string]any{"status": st, "answers": answers})
		return nil
	}
	switch {
	case st.AlreadyFinished:
		debug.PrintNormal(os.Stdout, "Mediation already finished\n")
	case st.Finished:
		debug.PrintNormal(os.Stdout, "All %d perspectives received, %d answers delivered\n", st.ParticipantCount, len(answers))
	default:
		debug.PrintNormal(os.Stdout, "Waiting for perspectives: %d of %d received\n", st.ReceivedCount, st.ParticipantCount)
	}
	return nil
}

var showFormat string

var showCmd = &cobra.Command{
	Use:   "show <group> <token>",
	Short: "Show a mediation and its participants' progress",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _, err := parseMediationID(args)
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		rep, err := a.svc.Report(rootCtx, id)
		if err != nil {
			return err
		}
		format := showFormat
		if jsonOutput {
			format = formatJSON
		}
		switch format {
		case formatJSON:
			outputJSON(rep)
		case formatYAML:
			return outputYAML(rep)
		case formatText, "":
			writeReport(os.Stdout, rep)
		default:
			return fmt.Errorf("unknown format %q (supported: text, json, yaml)", format)
		}
		return nil
	},
}

var keyCmd = &cobra.Command{
	Use:   "key <group> <token>",
	Short: "Print the joint key of a mediation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _, err := parseMediationID(args)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), mediation.JointKey(id))
		return nil
	},
}

func init() {
	showCmd.Flags().StringVar(&showFormat, "format", formatText, "Output format: text, json, yaml")
	rootCmd.AddCommand(createCmd, joinCmd, closeCmd, submitCmd, checkCmd, showCmd, keyCmd)
}
