package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/executor/internal/event"
	"github.com/opencode-ai/executor/internal/server"
	"github.com/opencode-ai/executor/internal/session"
	"github.com/opencode-ai/executor/pkg/protocol"
	"github.com/opencode-ai/executor/pkg/types"
)

type brokenListener struct {
	addr net.Addr
}

func (l *brokenListener) Accept() (net.Conn, error) { return nil, errors.New("listener broken") }
func (l *brokenListener) Close() error              { return nil }
func (l *brokenListener) Addr() net.Addr            { return l.addr }

// temporaryError is a net.Error that net/http would normally retry.
type temporaryError struct{}

func (temporaryError) Error() string   { return "too many open files" }
func (temporaryError) Timeout() bool   { return false }
func (temporaryError) Temporary() bool { return true }

type temporaryFailureListener struct {
	addr  net.Addr
	calls atomic.Int32
}

func (l *temporaryFailureListener) Accept() (net.Conn, error) {
	l.calls.Add(1)
	return nil, temporaryError{}
}
func (l *temporaryFailureListener) Close() error   { return nil }
func (l *temporaryFailureListener) Addr() net.Addr { return l.addr }

func dial(addr string, header http.Header) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.Dial("ws://"+addr+"/ws", header)
}

func roundTrip(conn *websocket.Conn, id, prompt string) *protocol.ServerPacket {
	data, err := protocol.EncodeClient(&protocol.ClientPacket{ID: id, Type: protocol.TypePrompt, Prompt: prompt})
	Expect(err).NotTo(HaveOccurred())
	Expect(conn.WriteMessage(websocket.TextMessage, data)).To(Succeed())

	_, msg, err := conn.ReadMessage()
	Expect(err).NotTo(HaveOccurred())
	p, err := protocol.DecodeServer(msg)
	Expect(err).NotTo(HaveOccurred())
	return p
}

var _ = Describe("Server", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		bus     *event.Bus
		release chan struct{}
		srv     *server.Server
		addr    string
		served  chan error
		events  chan event.Event
	)

	start := func(cfg types.ServerConfig) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		srv = server.New(cfg, newTestExecutor(), echoDispatcher(release),
			server.WithBus(bus), server.WithListener(l))
		Expect(srv.Listen()).To(Succeed())
		addr = srv.Addr().String()

		served = make(chan error, 1)
		go func() { served <- srv.Serve(ctx) }()
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		served = nil
		release = make(chan struct{})
		bus = event.NewBus()
		events = make(chan event.Event, 64)
		bus.SubscribeAll(func(e event.Event) {
			select {
			case events <- e:
			default:
			}
		})

		DeferCleanup(func() {
			close(release)
			cancel()
			if served != nil {
				Eventually(served, 5*time.Second).Should(Receive())
			}
			bus.Close()
		})
	})

	eventOf := func(t event.EventType) func() bool {
		return func() bool {
			for {
				select {
				case e := <-events:
					if e.Type == t {
						return true
					}
				default:
					return false
				}
			}
		}
	}

	Describe("Listen", func() {
		It("fails with a BindError when the address is taken", func() {
			taken, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			defer taken.Close()

			port := taken.Addr().(*net.TCPAddr).Port
			s := server.New(types.ServerConfig{Host: "127.0.0.1", Port: port}, newTestExecutor(), echoDispatcher(release), server.WithBus(bus))

			err = s.Listen()
			var bindErr *server.BindError
			Expect(errors.As(err, &bindErr)).To(BeTrue())
			Expect(bindErr.Addr).To(Equal("127.0.0.1:" + strconv.Itoa(port)))
			Expect(s.Addr()).To(BeNil())
			Consistently(eventOf(event.ListenerBound), 200*time.Millisecond).Should(BeFalse())
		})

		It("refuses to serve before Listen", func() {
			s := server.New(types.ServerConfig{}, newTestExecutor(), echoDispatcher(release))
			Expect(s.Serve(ctx)).To(MatchError(ContainSubstring("before Listen")))
		})

		It("reports the bound address on the bus", func() {
			start(types.ServerConfig{})
			Eventually(eventOf(event.ListenerBound)).Should(BeTrue())
		})
	})

	Describe("accepting connections", func() {
		BeforeEach(func() {
			start(types.ServerConfig{})
		})

		It("runs a session per connection", func() {
			conn, _, err := dial(addr, nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			p := roundTrip(conn, "1", "hello")
			Expect(p.Type).To(Equal(protocol.TypeResult))
			Expect(p.Data).To(Equal("hello"))
			Eventually(srv.Pool().Active).Should(Equal(1))
			Eventually(eventOf(event.SessionOpened)).Should(BeTrue())
		})

		It("keeps accepting after a malformed handshake", func() {
			raw, err := net.Dial("tcp", addr)
			Expect(err).NotTo(HaveOccurred())
			_, err = raw.Write([]byte("THIS IS NOT HTTP\r\n\r\n"))
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.ReadResponse(bufio.NewReader(raw), nil)
			if err == nil {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			}
			raw.Close()
			Eventually(eventOf(event.ConnectionRejected)).Should(BeTrue())

			// A plain GET reaches the handler and fails the upgrade.
			resp, err = http.Get("http://" + addr + "/ws")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Eventually(eventOf(event.ConnectionRejected)).Should(BeTrue())

			conn, _, err := dial(addr, nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()
			Expect(roundTrip(conn, "2", "still here").Data).To(Equal("still here"))
		})

		It("isolates a stalled session from the others", func() {
			a, _, err := dial(addr, nil)
			Expect(err).NotTo(HaveOccurred())
			defer a.Close()
			b, _, err := dial(addr, nil)
			Expect(err).NotTo(HaveOccurred())
			defer b.Close()

			data, _ := protocol.EncodeClient(&protocol.ClientPacket{ID: "a", Type: protocol.TypePrompt, Prompt: "hang"})
			Expect(a.WriteMessage(websocket.TextMessage, data)).To(Succeed())

			done := make(chan *protocol.ServerPacket, 1)
			go func() {
				defer GinkgoRecover()
				done <- roundTrip(b, "b", "quick")
			}()
			Eventually(done, 500*time.Millisecond).Should(Receive(HaveField("Data", "quick")))
		})

		It("serves many connections concurrently", func() {
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					defer GinkgoRecover()

					conn, _, err := dial(addr, nil)
					Expect(err).NotTo(HaveOccurred())
					defer conn.Close()
					for j := 0; j < 5; j++ {
						msg := fmt.Sprintf("%d-%d", i, j)
						Expect(roundTrip(conn, msg, msg).ID).To(Equal(msg))
					}
				}(i)
			}
			wg.Wait()
		})

		It("ends the session when the peer goes away", func() {
			conn, _, err := dial(addr, nil)
			Expect(err).NotTo(HaveOccurred())
			roundTrip(conn, "1", "x")

			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()

			Eventually(srv.Pool().Active).Should(Equal(0))
			Eventually(eventOf(event.SessionClosed)).Should(BeTrue())
		})

		It("ends the session on an undecodable frame", func() {
			conn, _, err := dial(addr, nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			Expect(conn.WriteMessage(websocket.TextMessage, []byte("{not json"))).To(Succeed())
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err = conn.ReadMessage()
			Expect(err).To(HaveOccurred())
			Eventually(srv.Pool().Active).Should(Equal(0))
		})

		It("reports health and live sessions", func() {
			conn, _, err := dial(addr, nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()
			roundTrip(conn, "1", "x")

			resp, err := http.Get("http://" + addr + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var health server.HealthResponse
			Expect(json.NewDecoder(resp.Body).Decode(&health)).To(Succeed())
			Expect(health.Status).To(Equal("ok"))
			Expect(health.Provider).To(Equal("stub"))
			Expect(health.Sessions).To(Equal(1))

			listed := func() []session.Info {
				resp, err := http.Get("http://" + addr + "/sessions")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				var infos []session.Info
				Expect(json.NewDecoder(resp.Body).Decode(&infos)).To(Succeed())
				return infos
			}
			Eventually(listed).Should(ConsistOf(And(
				HaveField("Handled", BeEquivalentTo(1)),
				HaveField("State", "idle"),
			)))
		})

		It("answers unknown routes with a JSON 404", func() {
			resp, err := http.Get("http://" + addr + "/nope")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
		})

		It("stops serving and closes sessions when the context ends", func() {
			conn, _, err := dial(addr, nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()
			roundTrip(conn, "1", "x")

			cancel()
			Eventually(served, 5*time.Second).Should(Receive(BeNil()))
			served = nil

			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err = conn.ReadMessage()
			Expect(err).To(HaveOccurred())
			Expect(srv.Pool().Active()).To(Equal(0))
		})
	})

	Describe("origin checks", func() {
		BeforeEach(func() {
			start(types.ServerConfig{AllowedOrigins: []string{"https://*.example.com", "localhost:*"}})
		})

		It("accepts matching origins and clients without one", func() {
			for _, origin := range []string{"https://app.example.com", "http://localhost:3000", ""} {
				header := http.Header{}
				if origin != "" {
					header.Set("Origin", origin)
				}
				conn, _, err := dial(addr, header)
				Expect(err).NotTo(HaveOccurred(), origin)
				conn.Close()
			}
		})

		It("rejects other origins", func() {
			header := http.Header{"Origin": []string{"https://evil.test"}}
			_, resp, err := dial(addr, header)
			Expect(err).To(MatchError(websocket.ErrBadHandshake))
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			Eventually(eventOf(event.ConnectionRejected)).Should(BeTrue())
		})
	})

	Describe("accept failures", func() {
		It("does not retry temporary accept errors", func() {
			l := &temporaryFailureListener{addr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}}
			s := server.New(types.ServerConfig{}, newTestExecutor(), echoDispatcher(release), server.WithListener(l))
			Expect(s.Listen()).To(Succeed())

			done := make(chan error, 1)
			go func() { done <- s.Serve(ctx) }()

			var err error
			Eventually(done, 500*time.Millisecond).Should(Receive(&err))
			var acceptErr *server.AcceptError
			Expect(errors.As(err, &acceptErr)).To(BeTrue())
			var ne net.Error
			Expect(errors.As(acceptErr.Err, &ne)).To(BeTrue())
			Expect(ne.Temporary()).To(BeTrue())
			Expect(l.calls.Load()).To(BeEquivalentTo(1))
		})

		It("terminates Serve with an AcceptError", func() {
			l := &brokenListener{addr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}}
			s := server.New(types.ServerConfig{}, newTestExecutor(), echoDispatcher(release), server.WithListener(l))
			Expect(s.Listen()).To(Succeed())

			err := s.Serve(ctx)
			var acceptErr *server.AcceptError
			Expect(errors.As(err, &acceptErr)).To(BeTrue())
			Expect(acceptErr.Err).To(MatchError("listener broken"))
		})
	})
})
