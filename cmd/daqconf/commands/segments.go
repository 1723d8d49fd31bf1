package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/resolver"
)

type resourceNode struct {
	ID       string          `json:"id"`
	Class    string          `json:"class"`
	Contains []*resourceNode `json:"contains,omitempty"`
}

type segmentNode struct {
	ID        string          `json:"id"`
	Class     string          `json:"class"`
	Templated bool            `json:"templated,omitempty"`
	Disabled  bool            `json:"disabled,omitempty"`
	Resources []*resourceNode `json:"resources,omitempty"`
	Nested    []*segmentNode  `json:"nested,omitempty"`
}

func newSegmentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "segments",
		Short: "Print the resolved segment tree",
		Long: `Print the tree of resolved segments starting at the online segment,
with the resources of every segment below it.`,
		Example: `  daqconf segments -d partition.yaml -p ATLAS`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *session) error {
				root, err := s.engine.Root(cmd.Context())
				if err != nil {
					return err
				}
				tree, err := segmentTree(root)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), tree)
				}
				printSegment(cmd.OutOrStdout(), tree, 0)
				return nil
			})
		},
	}
	return cmd
}

func segmentTree(seg *resolver.Segment) (*segmentNode, error) {
	disabled, err := seg.IsDisabled()
	if err != nil {
		return nil, err
	}
	node := &segmentNode{
		ID:        seg.UID(),
		Class:     seg.Base().Class(),
		Templated: seg.IsTemplated(),
		Disabled:  disabled,
	}
	for _, r := range seg.Base().Rel(dal.RelResources) {
		node.Resources = append(node.Resources, resourceTree(r, 0))
	}
	nested, err := seg.Nested()
	if err != nil {
		return nil, err
	}
	for _, n := range nested {
		child, err := segmentTree(n)
		if err != nil {
			return nil, err
		}
		node.Nested = append(node.Nested, child)
	}
	return node, nil
}

// resourceTree stops at a fixed depth so that a resource set containing
// itself cannot loop.
func resourceTree(obj *confdb.Object, depth int) *resourceNode {
	node := &resourceNode{ID: obj.UID(), Class: obj.Class()}
	if depth >= 32 {
		return node
	}
	for _, r := range obj.Rel(dal.RelContains) {
		node.Contains = append(node.Contains, resourceTree(r, depth+1))
	}
	return node
}

func printSegment(w io.Writer, n *segmentNode, level int) {
	suffix := ""
	if n.Disabled {
		suffix = " (disabled)"
	}
	fmt.Fprintf(w, "%s%s%s\n", strings.Repeat("  ", level), n.ID, suffix)
	for _, child := range n.Nested {
		printSegment(w, child, level+1)
	}
	for _, r := range n.Resources {
		printResource(w, r, level+1)
	}
}

func printResource(w io.Writer, n *resourceNode, level int) {
	fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", level), n.ID)
	for _, child := range n.Contains {
		printResource(w, child, level+1)
	}
}

func newTimeoutsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeouts SEGMENT...",
		Short: "Print the action and short timeouts of segments",
		Long: `Print the timeouts of each segment: the largest action and exit
timeouts of its nested segments and run control applications.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *session) error {
				type timeouts struct {
					Segment string `json:"segment"`
					Action  int64  `json:"action"`
					Short   int64  `json:"short"`
				}
				var out []timeouts
				for _, name := range args {
					action, short, err := s.engine.SegmentTimeouts(cmd.Context(), name)
					if err != nil {
						return fmt.Errorf("cannot get timeouts of %s: %w", name, err)
					}
					out = append(out, timeouts{Segment: name, Action: action, Short: short})
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), out)
				}
				t := newTable(cmd.OutOrStdout(), "SEGMENT", "ACTION", "SHORT")
				for _, o := range out {
					t.row(o.Segment, fmt.Sprint(o.Action), fmt.Sprint(o.Short))
				}
				return t.flush()
			})
		},
	}
	return cmd
}

func newParentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parents OBJECT",
		Short: "Print every path from the partition to an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *session) error {
				paths, err := s.engine.Parents(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := make([][]string, 0, len(paths))
				for _, p := range paths {
					out = append(out, p.IDs())
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), out)
				}
				if len(out) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is not referenced from partition %s\n", args[0], s.settings.Partition)
					return nil
				}
				for _, ids := range out {
					fmt.Fprintln(cmd.OutOrStdout(), strings.Join(append(ids, args[0]), " -> "))
				}
				return nil
			})
		},
	}
	return cmd
}
