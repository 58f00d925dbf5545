/*
Package messaging implements the viewer handshake and the request/response
protocol spoken with an embedded AMP document.

A Session starts in StateIdle and, on Start, either listens on the host
window for a channel-open event (StrategyListen) or posts a
"handshake-poll" probe over a fresh channel once per PollInterval
(StrategyPoll). The first valid channel-open moves it to
StateEstablished: the handshake response is posted, a Messaging layer is
bound to the channel and a visibilitychange request is sent. Close moves
any state to StateClosed and releases the timer, the listener and every
port.

Wire format:

	{"app":"__AMPHTML__","name":"visibilitychange","requestid":1,"type":"q","rsvp":true,"data":{...}}

Messages are decoded into a closed set of variants (ChannelOpen,
HandshakePoll, HandshakeResponse, Request, Response); anything else is
ErrUnrecognized and dropped.

Example Usage:

	loop := eventloop.New(logger)
	go loop.Run(ctx)

	session, err := messaging.NewSession(loop, messaging.Config{
		Window:   win,
		Frame:    frame,
		Origin:   cacheURL.Origin(),
		Strategy: messaging.StrategyListen,
		Handler:  handle,
	})
	if err != nil {
		return err
	}
	session.Start()
	defer session.Close()

	if err := session.WaitEstablished(ctxWithTimeout); err != nil {
		return err
	}
	pending, _ := session.SendRequest("broadcast", payload, false)
*/
package messaging
