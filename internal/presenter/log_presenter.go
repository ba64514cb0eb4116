package presenter

import (
	"fmt"

	"github.com/foveate/hostd/internal/logging"
	"github.com/foveate/hostd/internal/logsink"
	"github.com/foveate/hostd/internal/sessiontypes"
)

var log = logging.L("presenter")

// LogPresenter is the daemon's default Presenter: it has no GUI to draw
// into, so it renders every event as a structured log line and mirrors a
// human-readable copy into the running daemon's in-memory Log Sink.
// Pixel rendering of the barcode itself is left to whatever scans the
// logged payload (an operator, or an external renderer piping the sink).
type LogPresenter struct {
	sink *logsink.Sink
}

// NewLogPresenter returns a LogPresenter that mirrors events into sink, in
// addition to the structured logger. sink may be nil to skip mirroring.
func NewLogPresenter(sink *logsink.Sink) *LogPresenter {
	return &LogPresenter{sink: sink}
}

func (p *LogPresenter) GenerateBarcode(payload sessiontypes.BarcodePayload) {
	log.Info("barcode payload generated",
		"clientToken", payload.ClientToken,
		"certificateFingerprint", payload.CertificateFingerprint,
	)
	p.append(fmt.Sprintf("barcode payload: clientToken=%s fingerprint=%s", payload.ClientToken, payload.CertificateFingerprint))
}

func (p *LogPresenter) SessionStatusDidChange(status sessiontypes.SessionStatus) {
	log.Info("session status changed", "status", status)
	p.append(fmt.Sprintf("session status: %s", status))
}

func (p *LogPresenter) BarcodePresentationRequested(info sessiontypes.SessionInformation) {
	log.Info("barcode presentation requested",
		"sessionId", info.SessionID,
		"clientId", info.ClientID,
	)
	p.GenerateBarcode(info.Barcode)
	p.append(fmt.Sprintf("barcode requested for session %s", info.SessionID))
}

func (p *LogPresenter) ConnectionErrorOccurred(err error) {
	log.Error("connection error", "error", err)
	p.append(fmt.Sprintf("connection error: %v", err))
}

func (p *LogPresenter) append(line string) {
	if p.sink != nil {
		p.sink.Append(line)
	}
}
