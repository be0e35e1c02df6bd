package logging

import (
	"fmt"
	"sync/atomic"
)

// Publisher je cokoliv, co umí poslat zprávu do MQTT bez čekání (mqttsub.Client).
type Publisher interface {
	Publish(topic string, payload []byte)
}

// MqttLogWriter implementuje rozhraní io.Writer.
// Vše, co se do něj zapíše, se odešle do MQTT na topic logs/<služba>.
//
// Problém slepice-vejce: logger potřebujeme dřív, než existuje MQTT spojení.
// Writer proto vzniká bez klienta a publisher se připojí později přes Attach.
// Do té doby se řádky jen zahazují (na stdout jdou tak jako tak přes MultiWriter).
type MqttLogWriter struct {
	topic string
	pub   atomic.Pointer[publisherBox]
}

type publisherBox struct{ p Publisher }

// NewMqttLogWriter vytvoří novou instanci writeru.
func NewMqttLogWriter(serviceName string) *MqttLogWriter {
	return &MqttLogWriter{topic: fmt.Sprintf("logs/%s", serviceName)}
}

// Attach nastaví publisher. nil přeposílání vypne.
func (w *MqttLogWriter) Attach(p Publisher) {
	if p == nil {
		w.pub.Store(nil)
		return
	}
	w.pub.Store(&publisherBox{p: p})
}

// Topic vrací cílový topic.
func (w *MqttLogWriter) Topic() string { return w.topic }

// Write je metoda vyžadovaná rozhraním io.Writer.
// Nikdy nevrací chybu, logování nesmí shodit aplikaci.
func (w *MqttLogWriter) Write(p []byte) (int, error) {
	box := w.pub.Load()
	if box == nil {
		return len(p), nil
	}

	// Payload musíme zkopírovat, slog buffer 'p' znovu použije.
	payload := make([]byte, len(p))
	copy(payload, p)

	// Fire-and-forget, na potvrzení nečekáme.
	box.p.Publish(w.topic, payload)
	return len(p), nil
}
