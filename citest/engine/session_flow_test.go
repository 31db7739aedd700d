package engine_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sessionlog-ai/sessionlog/citest/testutil"
	"github.com/sessionlog-ai/sessionlog/internal/provider"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

var _ = Describe("Session flow", func() {
	var (
		ts     *testutil.TestServer
		client *testutil.TestClient
	)

	AfterEach(func() {
		if ts != nil {
			ts.Close()
		}
	})

	Context("single text turn", func() {
		BeforeEach(func() {
			var err error
			ts, err = testutil.StartTestServer()
			Expect(err).NotTo(HaveOccurred())
			client = ts.Client()
		})

		It("persists the conversation as an event chain", func() {
			sess, err := client.CreateSession("flow test")
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.RootEventID).NotTo(BeEmpty())

			result, status, err := client.Prompt(sess.ID, "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusOK))
			Expect(result.TurnsExecuted).To(Equal(1))
			Expect(result.Interrupted).To(BeFalse())

			events, err := client.Events(sess.ID)
			Expect(err).NotTo(HaveOccurred())

			// Sequences are gap-free and the chain is connected.
			for i, ev := range events {
				Expect(ev.Sequence).To(Equal(int64(i + 1)))
				if i > 0 {
					Expect(ev.ParentID).NotTo(BeEmpty())
				}
			}

			seen := map[types.EventType]bool{}
			for _, ev := range events {
				seen[ev.Type] = true
			}
			Expect(seen[types.EventSessionStart]).To(BeTrue())
			Expect(seen[types.EventMessageUser]).To(BeTrue())
			Expect(seen[types.EventMessageAssistant]).To(BeTrue())
			Expect(seen[types.EventStreamTurnStart]).To(BeTrue())
			Expect(seen[types.EventStreamTurnEnd]).To(BeTrue())
		})

		It("reconstructs deterministically", func() {
			sess, err := client.CreateSession("reconstruct test")
			Expect(err).NotTo(HaveOccurred())

			_, _, err = client.Prompt(sess.ID, "hello")
			Expect(err).NotTo(HaveOccurred())

			first, status, err := client.Reconstruct(sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusOK))
			Expect(first.Messages).To(HaveLen(2))

			second, _, err := client.Reconstruct(sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Messages).To(Equal(first.Messages))
		})
	})

	Context("tool round trip", func() {
		BeforeEach(func() {
			var err error
			ts, err = testutil.StartTestServer(testutil.WithScript(
				provider.ToolTurn("call_1", "read_file", `{"path":"main.go"}`,
					&types.RawTokenUsage{InputTokens: 30, OutputTokens: 15}),
				provider.TextTurn("The file is empty.",
					&types.RawTokenUsage{InputTokens: 50, OutputTokens: 8}),
			))
			Expect(err).NotTo(HaveOccurred())
			client = ts.Client()
		})

		It("runs the agentic loop across tool dispatch", func() {
			sess, err := client.CreateSession("tool test")
			Expect(err).NotTo(HaveOccurred())

			result, status, err := client.Prompt(sess.ID, "read main.go")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusOK))
			Expect(result.TurnsExecuted).To(Equal(2))

			events, err := client.Events(sess.ID)
			Expect(err).NotTo(HaveOccurred())

			var toolCalls, toolResults int
			for _, ev := range events {
				switch ev.Type {
				case types.EventToolCall:
					toolCalls++
				case types.EventToolResult:
					toolResults++
				}
			}
			Expect(toolCalls).To(Equal(1))
			Expect(toolResults).To(Equal(1))

			state, _, err := client.Reconstruct(sess.ID)
			Expect(err).NotTo(HaveOccurred())
			// user prompt, assistant tool_use, user tool_result, assistant text
			Expect(len(state.Messages)).To(Equal(4))
		})
	})
})
