package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

var processFlags struct {
	chatRoom string
	content  string
	sender   string
	gridArea string
	source   string
	ruleID   int64
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one message through the rule engine and print the result",
	Long: `process evaluates a message against the configured chain, or a single
rule with --rule. Replies and forwards are logged but not delivered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if processFlags.chatRoom == "" || processFlags.content == "" {
			return fmt.Errorf("--chat and --content are required")
		}
		source := domain.SourceType(processFlags.source)
		if source != domain.SourceServer && source != domain.SourceClient {
			return fmt.Errorf("--source must be server or client")
		}

		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		msg := &domain.Message{
			ChatRoom:   processFlags.chatRoom,
			SenderName: processFlags.sender,
			Content:    processFlags.content,
			MsgType:    "text",
			GridArea:   processFlags.gridArea,
			SourceType: source,
			ReceivedAt: time.Now(),
		}

		var res *domain.ChainResult
		if processFlags.ruleID != 0 {
			res, err = a.uc.Engine.EvaluateRule(ctx, processFlags.ruleID, msg)
		} else {
			res, err = a.ingest.Process(ctx, msg)
		}
		if flushErr := a.uc.Engine.Flush(ctx); flushErr != nil {
			logger.Warn("flush failed", zap.Error(flushErr))
		}
		if res != nil {
			printResult(cmd, res)
		}
		return err
	},
}

func init() {
	f := processCmd.Flags()
	f.StringVar(&processFlags.chatRoom, "chat", "", "chat room id")
	f.StringVar(&processFlags.content, "content", "", "message text")
	f.StringVar(&processFlags.sender, "sender", "", "sender display name")
	f.StringVar(&processFlags.gridArea, "area", "", "grid area")
	f.StringVar(&processFlags.source, "source", string(domain.SourceServer), "message source: server or client")
	f.Int64Var(&processFlags.ruleID, "rule", 0, "evaluate only this rule id")
}

func printResult(cmd *cobra.Command, res *domain.ChainResult) {
	type matched struct {
		Rule    string   `json:"rule"`
		Result  string   `json:"result"`
		Actions []string `json:"actions,omitempty"`
	}
	out := struct {
		Chain     string    `json:"chain"`
		MessageID string    `json:"message_id"`
		Status    string    `json:"status"`
		Evaluated []int64   `json:"evaluated"`
		Matched   []matched `json:"matched"`
		Tags      []string  `json:"tags,omitempty"`
		Error     string    `json:"error,omitempty"`
		Duration  string    `json:"duration"`
	}{
		Chain:     res.ChainName,
		MessageID: res.MessageID,
		Status:    string(res.FinalStatus),
		Evaluated: res.EvaluatedRules,
		Matched:   []matched{},
		Tags:      res.Tags,
		Duration:  res.Duration.String(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	for _, m := range res.MatchedRules {
		mm := matched{Rule: m.RuleName, Result: string(m.Result)}
		for _, a := range m.Actions.Applied {
			mm.Actions = append(mm.Actions, string(a))
		}
		out.Matched = append(out.Matched, mm)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.Encode(out)
}
