package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"livemod/internal/storage"
	"livemod/pkg/rulespec"
)

// listKeys 命令行中的列表名到存储键
var listKeys = map[string]string{
	"ban":    rulespec.KeyBan,
	"delete": rulespec.KeyDelete,
}

func newKeywordsCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keywords",
		Short: "Manage ban and delete keyword lists",
		Long: `Manage the keyword lists stored in the sqlite database.

Examples:
  livemod keywords list
  livemod keywords add ban "free tokens"
  livemod keywords toggle delete dogs     # flip word-boundary matching
  livemod keywords remove ban scam
  livemod keywords export > keywords.json
  livemod keywords import keywords.json`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show both keyword lists",
			Args:  cobra.NoArgs,
			RunE: withStore(o, func(cmd *cobra.Command, s *storage.KeywordStore, _ []string) error {
				rs, err := s.RuleSet(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printList(out, "ban", rs.Ban)
				printList(out, "delete", rs.Delete)
				return nil
			}),
		},
		editCommand(o, "add", "Add a keyword (word boundary on)", rulespec.Add),
		editCommand(o, "remove", "Remove a keyword", rulespec.Remove),
		editCommand(o, "toggle", "Flip word-boundary matching of a keyword", rulespec.Toggle),
		&cobra.Command{
			Use:   "import <file|->",
			Short: "Replace both lists from a JSON document",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(o, func(cmd *cobra.Command, s *storage.KeywordStore, args []string) error {
				data, err := readInput(cmd, args[0])
				if err != nil {
					return err
				}
				rs, err := rulespec.ParseDocument(data)
				if err != nil {
					return err
				}
				if err := s.SaveRuleSet(cmd.Context(), rs); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d ban and %d delete keyword(s)\n", len(rs.Ban), len(rs.Delete))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "export [file]",
			Short: "Write both lists as a JSON document",
			Args:  cobra.MaximumNArgs(1),
			RunE: withStore(o, func(cmd *cobra.Command, s *storage.KeywordStore, args []string) error {
				rs, err := s.RuleSet(cmd.Context())
				if err != nil {
					return err
				}
				data, err := rulespec.Export(rs)
				if err != nil {
					return err
				}
				if len(args) == 1 && args[0] != "-" {
					return os.WriteFile(args[0], data, 0o644)
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}),
		},
	)
	return cmd
}

type editFunc func(list []rulespec.KeywordRule, value string) ([]rulespec.KeywordRule, bool)

func editCommand(o *options, use, short string, edit editFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <ban|delete> <keyword>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: withStore(o, func(cmd *cobra.Command, s *storage.KeywordStore, args []string) error {
			key, ok := listKeys[args[0]]
			if !ok {
				return fmt.Errorf("unknown list %q, want ban or delete", args[0])
			}
			rs, err := s.RuleSet(cmd.Context())
			if err != nil {
				return err
			}
			list := rs.Delete
			if key == rulespec.KeyBan {
				list = rs.Ban
			}
			updated, changed := edit(list, args[1])
			if !changed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s list unchanged\n", args[0])
				return nil
			}
			if err := s.SaveList(cmd.Context(), key, updated); err != nil {
				return err
			}
			printList(cmd.OutOrStdout(), args[0], updated)
			return nil
		}),
	}
}

func withStore(o *options, run func(cmd *cobra.Command, s *storage.KeywordStore, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := o.load(true)
		if err != nil {
			return err
		}
		defer e.Close()
		if err := e.openDB(); err != nil {
			return err
		}
		return run(cmd, e.keywords(), args)
	}
}

func printList(w io.Writer, name string, list []rulespec.KeywordRule) {
	fmt.Fprintf(w, "%s (%d):\n", name, len(list))
	for _, r := range list {
		mode := "word"
		if !r.Boundary {
			mode = "substring"
		}
		fmt.Fprintf(w, "  %-24s %s\n", r.Value, mode)
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
