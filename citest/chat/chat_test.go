package chat_test

import (
	"bufio"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentrelay/agentrelay/citest/testutil"
	"github.com/agentrelay/agentrelay/internal/stream"
)

const defaultTimeout = 10 * time.Second

var _ = Describe("Chat Relay", func() {
	BeforeEach(func() {
		testServer.Agent.SetFailStart(false)
		testServer.Agent.SetScript(testutil.StreamScript{})
	})

	Describe("Session Lifecycle", func() {
		It("should open a session and return the agent greeting", func() {
			result, err := client.StartSession(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.SessionID).NotTo(BeEmpty())
			Expect(result.InitialMessage).To(Equal("Hello from the agent"))

			Expect(client.CloseSession(ctx, result.SessionID)).To(Succeed())
		})

		It("should surface upstream failures as API errors", func() {
			testServer.Agent.SetFailStart(true)

			_, err := client.StartSession(ctx)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("api error"))
		})

		It("should close a session unknown to the registry", func() {
			Expect(client.CloseSession(ctx, "never-registered")).To(Succeed())
			Expect(testServer.Agent.Deletes()).To(ContainElement("never-registered"))
		})

		It("should acquire a bearer token lazily and reuse it", func() {
			before := testServer.Agent.TokenRequests()

			result, err := client.StartSession(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(client.CloseSession(ctx, result.SessionID)).To(Succeed())

			Expect(testServer.Agent.TokenRequests()).To(BeNumerically("<=", before+1))
		})
	})

	Describe("Message Streaming", func() {
		var sessionID string

		BeforeEach(func() {
			result, err := client.StartSession(ctx)
			Expect(err).NotTo(HaveOccurred())
			sessionID = result.SessionID

			DeferCleanup(func() {
				client.CloseSession(ctx, sessionID)
			})
		})

		It("should relay decoded text and terminate with one EndOfResponse", func() {
			testServer.Agent.SetScript(testutil.StreamScript{
				Lines: []string{
					`data: {"message":{"type":"TextChunk","message":"Hello"}}`,
					`data: {"message":{"type":"TextChunk","message":" world"}}`,
					`data: {"message":{"type":"EndOfTurn"}}`,
				},
			})

			es, err := client.StreamMessage(ctx, sessionID, "hi there")
			Expect(err).NotTo(HaveOccurred())

			events, err := es.Collect(defaultTimeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(3))
			Expect(events[0].Text).To(Equal("Hello"))
			Expect(events[1].Text).To(Equal(" world"))
			Expect(events[2].Type).To(Equal(stream.EventEndOfResponse))

			Expect(testServer.Agent.Messages()).To(ContainElement("hi there"))
		})

		It("should emit exactly one terminal event for repeated EndOfTurn frames", func() {
			testServer.Agent.SetScript(testutil.StreamScript{
				Lines: []string{
					`data: {"message":{"type":"TextChunk","message":"a"}}`,
					`data: {"message":{"type":"EndOfTurn"}}`,
					`data: {"message":{"type":"EndOfTurn"}}`,
				},
			})

			es, err := client.StreamMessage(ctx, sessionID, "hi")
			Expect(err).NotTo(HaveOccurred())

			events, err := es.Collect(defaultTimeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(es.CountType(stream.EventEndOfResponse)).To(Equal(1))
			Expect(events[len(events)-1].Type).To(Equal(stream.EventEndOfResponse))
		})

		It("should relay progress indicators", func() {
			testServer.Agent.SetScript(testutil.StreamScript{
				Lines: []string{
					`data: {"message":{"type":"ProgressIndicator","message":"Thinking"}}`,
					`data: {"message":{"type":"TextChunk","message":"Done"}}`,
					`data: {"message":{"type":"EndOfTurn"}}`,
				},
			})

			es, err := client.StreamMessage(ctx, sessionID, "hi")
			Expect(err).NotTo(HaveOccurred())

			events, err := es.Collect(defaultTimeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(events[0].Type).To(Equal(stream.EventProgress))
			Expect(events[0].Text).To(Equal("Thinking"))
		})

		It("should fold an upstream drop into Error then EndOfResponse", func() {
			testServer.Agent.SetScript(testutil.StreamScript{
				Lines: []string{
					`data: {"message":{"type":"TextChunk","message":"Hel"}}`,
					`data: {"message":{"type":"TextChunk","message":"lo"}}`,
				},
				DropAfter: 1,
			})

			es, err := client.StreamMessage(ctx, sessionID, "hi")
			Expect(err).NotTo(HaveOccurred())

			events, err := es.Collect(defaultTimeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(es.CountType(stream.EventError)).To(Equal(1))
			Expect(events[len(events)-1].Type).To(Equal(stream.EventEndOfResponse))
		})

		It("should reject messages for unknown sessions", func() {
			_, err := client.StreamMessage(ctx, "ghost", "hi")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("session not found"))
		})
	})

	Describe("Lifecycle Events", func() {
		It("should publish session events on the monitoring stream", func() {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, testServer.BaseURL+"/events", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := testServer.Client().Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			reader := bufio.NewReader(resp.Body)
			line, err := reader.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(line).To(HavePrefix(": connected"))

			result, err := client.StartSession(ctx)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() {
				client.CloseSession(ctx, result.SessionID)
			})

			Eventually(func() string {
				line, err := reader.ReadString('\n')
				if err != nil {
					return ""
				}
				if strings.HasPrefix(line, "data: ") {
					return line
				}
				return ""
			}, defaultTimeout).Should(ContainSubstring("session.created"))
		})
	})
})
