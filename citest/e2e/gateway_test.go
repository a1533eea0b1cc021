package e2e_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/executor/citest/testutil"
	"github.com/opencode-ai/executor/internal/event"
	"github.com/opencode-ai/executor/internal/server"
	"github.com/opencode-ai/executor/internal/session"
	"github.com/opencode-ai/executor/pkg/gateway"
	"github.com/opencode-ai/executor/pkg/protocol"
	"github.com/opencode-ai/executor/pkg/types"
)

const timeout = 10 * time.Second

var _ = Describe("Gateway", func() {
	var client *testutil.WSClient

	BeforeEach(func() {
		var err error
		client, err = testGateway.Dial()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if client != nil {
			client.Close()
		}
	})

	Describe("ping", func() {
		It("answers with pong", func() {
			packets, err := client.Do(&protocol.ClientPacket{Type: protocol.TypePing}, timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(packets).To(HaveLen(1))
			Expect(packets[0].Type).To(Equal(protocol.TypePong))
		})
	})

	Describe("exec", func() {
		It("streams output lines and the exit code", func() {
			packets, err := client.Do(&protocol.ClientPacket{
				Type:    protocol.TypeExec,
				Command: `echo one; echo two; echo oops >&2; exit 3`,
			}, timeout)
			Expect(err).NotTo(HaveOccurred())

			m := testutil.NewPacketMatcher(packets)
			Expect(m.CountType(protocol.TypeOutput)).To(Equal(3))
			Expect(m.Last().Type).To(Equal(protocol.TypeExit))
			Expect(*m.Last().Code).To(Equal(3))
		})

		It("runs in the configured working directory", func() {
			packets, err := client.Do(&protocol.ClientPacket{Type: protocol.TypeExec, Command: "ls .executor/command"}, timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(testutil.NewPacketMatcher(packets).Text(protocol.TypeOutput)).To(ContainSubstring("review.md"))
		})
	})

	Describe("prompt", func() {
		It("streams deltas from the AI client", func() {
			mockLLM.Respond("capital of france", "The capital of France is Paris.")

			packets, err := client.Do(&protocol.ClientPacket{
				Type:   protocol.TypePrompt,
				Prompt: "What is the capital of France?",
			}, timeout)
			Expect(err).NotTo(HaveOccurred())

			m := testutil.NewPacketMatcher(packets)
			Expect(m.CountType(protocol.TypeDelta)).To(BeNumerically(">", 1))
			Expect(m.Text(protocol.TypeDelta)).To(Equal("The capital of France is Paris."))
			Expect(m.Last().Type).To(Equal(protocol.TypeResult))
			Expect(m.Last().Data).To(Equal("The capital of France is Paris."))
			Expect(m.Last().Meta).To(HaveKeyWithValue("provider", "openai"))
		})

		It("retries when the AI endpoint is briefly unavailable", func() {
			mockLLM.FailNext(1)

			packets, err := client.Do(&protocol.ClientPacket{Type: protocol.TypePrompt, Prompt: "hello"}, 30*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(testutil.NewPacketMatcher(packets).Last().Type).To(Equal(protocol.TypeResult))
		})
	})

	Describe("command", func() {
		It("expands a template from the working directory", func() {
			before := len(mockLLM.GetRequests())

			packets, err := client.Do(&protocol.ClientPacket{
				Type:    protocol.TypeCommand,
				Command: "review",
				Args:    []string{"main.go"},
			}, timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(testutil.NewPacketMatcher(packets).Last().Type).To(Equal(protocol.TypeResult))

			requests := mockLLM.GetRequests()
			Expect(requests).To(HaveLen(before + 1))
			last := requests[len(requests)-1]
			Expect(last.Prompt).To(Equal("Review main.go for bugs."))
			Expect(last.System).To(Equal("You are a strict reviewer."))
		})
	})

	Describe("fetch", func() {
		It("goes through the shared HTTP client", func() {
			site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"items":[1,2,3]}`)
			}))
			defer site.Close()

			packets, err := client.Do(&protocol.ClientPacket{
				Type:   protocol.TypeFetch,
				URL:    site.URL,
				Filter: ".items | length",
			}, timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(packets).To(HaveLen(1))
			Expect(packets[0].Type).To(Equal(protocol.TypeResult))
			Expect(packets[0].Data).To(Equal("3"))
		})
	})

	Describe("errors", func() {
		It("reports a bad request and keeps the session", func() {
			packets, err := client.Do(&protocol.ClientPacket{Type: "pnig"}, timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(packets[0].Type).To(Equal(protocol.TypeError))
			Expect(packets[0].Error).To(ContainSubstring(`did you mean "ping"`))

			packets, err = client.Do(&protocol.ClientPacket{Type: protocol.TypePing}, timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(packets[0].Type).To(Equal(protocol.TypePong))
		})

		It("ends the session on an undecodable frame", func() {
			Expect(client.SendRaw([]byte("not json"))).To(Succeed())
			_, err := client.Recv(timeout)
			Expect(err).To(HaveOccurred())
			client = nil
		})
	})

	Describe("ordering", func() {
		It("answers pipelined requests in order", func() {
			var ids []string
			for i := 0; i < 20; i++ {
				id, err := client.Send(&protocol.ClientPacket{Type: protocol.TypePing})
				Expect(err).NotTo(HaveOccurred())
				ids = append(ids, id)
			}
			for _, id := range ids {
				p, err := client.Recv(timeout)
				Expect(err).NotTo(HaveOccurred())
				Expect(p.ID).To(Equal(id))
			}
		})
	})

	Describe("isolation", func() {
		It("serves other connections while one is busy", func() {
			_, err := client.Send(&protocol.ClientPacket{Type: protocol.TypeExec, Command: "sleep 3"})
			Expect(err).NotTo(HaveOccurred())

			other, err := testGateway.Dial()
			Expect(err).NotTo(HaveOccurred())
			defer other.Close()

			start := time.Now()
			packets, err := other.Do(&protocol.ClientPacket{Type: protocol.TypePing}, timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(packets[0].Type).To(Equal(protocol.TypePong))
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		})

		It("handles many concurrent clients", func() {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					defer GinkgoRecover()

					c, err := testGateway.Dial()
					Expect(err).NotTo(HaveOccurred())
					defer c.Close()

					packets, err := c.Do(&protocol.ClientPacket{
						Type:    protocol.TypeExec,
						Command: fmt.Sprintf("echo client-%d", i),
					}, timeout)
					Expect(err).NotTo(HaveOccurred())
					Expect(testutil.NewPacketMatcher(packets).Text(protocol.TypeOutput)).To(Equal(fmt.Sprintf("client-%d", i)))
				}(i)
			}
			wg.Wait()
		})
	})

	Describe("lifecycle", func() {
		It("publishes session events and lists live sessions", func() {
			closed := make(chan event.SessionClosedData, 8)
			unsubscribe := testGateway.Bus.Subscribe(event.SessionClosed, func(e event.Event) {
				var data event.SessionClosedData
				if e.Decode(&data) == nil {
					closed <- data
				}
			})
			defer unsubscribe()

			_, err := client.Do(&protocol.ClientPacket{Type: protocol.TypePing}, timeout)
			Expect(err).NotTo(HaveOccurred())

			resp, err := testGateway.HTTP().Get(context.Background(), "/sessions")
			Expect(err).NotTo(HaveOccurred())
			var infos []session.Info
			Expect(resp.JSON(&infos)).To(Succeed())
			Expect(infos).NotTo(BeEmpty())

			Expect(client.Close()).To(Succeed())
			client = nil
			Eventually(closed, timeout).Should(Receive(HaveField("Handled", BeNumerically(">=", 1))))
		})

		It("reports health", func() {
			resp, err := testGateway.HTTP().Get(context.Background(), "/healthz")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())

			var health server.HealthResponse
			Expect(resp.JSON(&health)).To(Succeed())
			Expect(health.Provider).To(Equal("openai"))
			Expect(health.Model).To(Equal("mock-gpt-4"))
		})
	})
})

var _ = Describe("Startup", func() {
	It("does not open a port when the AI client cannot be built", func() {
		cfg := &types.Config{
			Model:  "nosuch/model",
			Server: types.ServerConfig{Host: "127.0.0.1", Port: 1},
		}
		events := make(chan gateway.Event, 1)

		err := gateway.ListenAndServe(context.Background(), cfg, events)
		Expect(err).To(MatchError(ContainSubstring("unknown provider")))
		Expect(events).NotTo(Receive())
	})

	It("serves an in-process session through Launch", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		peer, err := gateway.Launch(ctx, testGateway.Config, gateway.WithWorkDir(workDir.Path))
		Expect(err).NotTo(HaveOccurred())
		defer peer.Close()

		Expect(peer.Submit(&protocol.ClientPacket{ID: "x", Type: protocol.TypeExec, Command: "echo in-process"})).To(Succeed())

		var packets []*protocol.ServerPacket
		for {
			p, err := peer.Recv(ctx)
			Expect(err).NotTo(HaveOccurred())
			packets = append(packets, p)
			if p.Type.Terminal() {
				break
			}
		}
		Expect(testutil.NewPacketMatcher(packets).Text(protocol.TypeOutput)).To(Equal("in-process"))
	})
})
