// Package gobayeux is a client for servers implementing the Bayeux
// Protocol over a single pipelined HTTP/1.1 connection.
//
// A Connection owns one TCP connection. Any number of goroutines may call
// Send on it: requests are written back to back without waiting for
// earlier responses, and a background reader hands each response to the
// oldest request still waiting for one.
//
//	conn, err := gobayeux.Dial(ctx, "localhost:8080", gobayeux.WithPath("/cometd"))
//
// A Session speaks the protocol on top of a Connection. It must handshake
// before it can subscribe, publish or long-poll:
//
//	err := gobayeux.WithSession(ctx, conn, func(s *gobayeux.Session) error {
//		if _, err := s.SubscribeAndWait(ctx, "/foo/bar", 2*time.Second); err != nil {
//			return err
//		}
//		events, err := s.Connect(ctx)
//		...
//	})
//
// Several Sessions may share a Connection, but a /meta/connect long-poll
// holds up every request pipelined behind it. Client keeps its long-poll
// and its publishes on separate connections and delivers events to Go
// channels:
//
//	client, err := gobayeux.NewClient(ctx, "localhost:8080")
//	recv := make(chan []gobayeux.Message, 16)
//	err = client.Subscribe(ctx, "/foo/*", recv)
//	errs := client.Start(ctx)
//
// Extensions implement MessageExtender and see every message a Session
// sends and receives:
//
//	type Example struct{}
//	func (e *Example) Registered(name string, session *gobayeux.Session) {}
//	func (e *Example) Unregistered() {}
//	func (e *Example) Outgoing(m *gobayeux.Message) {
//		switch m.Channel {
//		case gobayeux.MetaHandshake:
//			ext := m.GetExt(true)
//			ext["example"] = true
//		}
//	}
//	func (e *Example) Incoming(m *gobayeux.Message) {}
//
//	client, err := gobayeux.NewClient(ctx, address, gobayeux.WithExtension(&Example{}))
package gobayeux
