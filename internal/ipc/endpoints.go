package ipc

// Paths names the FIFO paths for every endpoint the router opens at
// startup, per spec §6's channel list.
type Paths struct {
	CentralToRouter    string
	RouterToCentral    string
	TelemetryToRouter  string
	RouterToTelemetry  string
	RCToRouter         string
	RouterToRC         string
	Audio              string
	AudioEnabled       bool
}

// Endpoints owns every open IPC handle the router holds across its
// lifetime. Opening is all-or-nothing: OpenAll tears down whatever it
// already opened on the first failure, since any missing channel is
// init-fatal per §7.
type Endpoints struct {
	FromCentral   *Endpoint
	ToCentral     *Endpoint
	FromTelemetry *Endpoint
	ToTelemetry   *Endpoint
	FromRC        *Endpoint
	ToRC          *Endpoint
	Audio         *AudioSink

	fromCentralBuf   PartialBuffer
	fromTelemetryBuf PartialBuffer
	fromRCBuf        PartialBuffer
}

// OpenAll opens every required channel, and the audio pipe if enabled.
// On any failure it closes whatever was already opened and returns the
// error, matching open_pipes' early-return-on-first-failure shape.
func OpenAll(p Paths) (*Endpoints, error) {
	e := &Endpoints{}

	type step struct {
		target **Endpoint
		open   func() (*Endpoint, error)
	}
	steps := []step{
		{&e.FromRC, func() (*Endpoint, error) { return OpenReadEndpoint(p.RCToRouter) }},
		{&e.ToRC, func() (*Endpoint, error) { return OpenWriteEndpoint(p.RouterToRC) }},
		{&e.FromCentral, func() (*Endpoint, error) { return OpenReadEndpoint(p.CentralToRouter) }},
		{&e.ToCentral, func() (*Endpoint, error) { return OpenWriteEndpoint(p.RouterToCentral) }},
		{&e.ToTelemetry, func() (*Endpoint, error) { return OpenWriteEndpoint(p.RouterToTelemetry) }},
		{&e.FromTelemetry, func() (*Endpoint, error) { return OpenReadEndpoint(p.TelemetryToRouter) }},
	}

	for _, s := range steps {
		ep, err := s.open()
		if err != nil {
			e.CloseAll()
			return nil, err
		}
		*s.target = ep
	}

	if p.AudioEnabled {
		sink, err := OpenAudioSink(p.Audio)
		if err != nil {
			e.CloseAll()
			return nil, err
		}
		e.Audio = sink
	}

	return e, nil
}

// CloseAll releases every opened handle in reverse construction order,
// ignoring individual close errors (shutdown is best-effort).
func (e *Endpoints) CloseAll() {
	if e.Audio != nil {
		_ = e.Audio.Close()
	}
	if e.FromTelemetry != nil {
		_ = e.FromTelemetry.Close()
	}
	if e.ToTelemetry != nil {
		_ = e.ToTelemetry.Close()
	}
	if e.ToCentral != nil {
		_ = e.ToCentral.Close()
	}
	if e.FromCentral != nil {
		_ = e.FromCentral.Close()
	}
	if e.ToRC != nil {
		_ = e.ToRC.Close()
	}
	if e.FromRC != nil {
		_ = e.FromRC.Close()
	}
}

// DrainResult is the yield of one DrainInbound call: messages bucketed
// by whether they're routed to the control queue (LOCAL_CONTROL
// component) or the radio queue (everything else), per §4.5 step 4.
type DrainResult struct {
	Control [][]byte
	Radio   [][]byte
}

// drainUpTo pulls up to max framed messages from ep, appending each to
// either dst.Control or dst.Radio based on its component tag.
func drainUpTo(ep *Endpoint, buf *PartialBuffer, max int, dst *DrainResult, isLocalControl func([]byte) bool) {
	for i := 0; i < max; i++ {
		msg, err := ep.TryReadMessage(buf)
		if err != nil || msg == nil {
			return
		}
		if isLocalControl(msg) {
			dst.Control = append(dst.Control, msg)
		} else {
			dst.Radio = append(dst.Radio, msg)
		}
	}
}

// DrainInbound implements §4.5 step 4: read up to centralMax messages
// from Central, 5 from Telemetry, 5 from RC, routing each by component
// tag. centralMax is 5+DEFAULT_UPLOAD_PACKET_CONFIRMATION_FREQUENCY,
// computed by the caller (router owns that preference).
func (e *Endpoints) DrainInbound(centralMax int, isLocalControl func([]byte) bool) DrainResult {
	var res DrainResult
	drainUpTo(e.FromCentral, &e.fromCentralBuf, centralMax, &res, isLocalControl)
	drainUpTo(e.FromTelemetry, &e.fromTelemetryBuf, 5, &res, isLocalControl)
	drainUpTo(e.FromRC, &e.fromRCBuf, 5, &res, isLocalControl)
	return res
}
