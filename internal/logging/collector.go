package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileSink ukládá přeposlané logy do souborů, jeden soubor na službu:
// logs/sensor-ingestor -> <dir>/sensor-ingestor.log
type FileSink struct {
	dir string
	mu  sync.Mutex
}

// NewFileSink připraví adresář (včetně podadresářů).
func NewFileSink(dir string) (*FileSink, error) {
	// 0755: vlastník může psát, ostatní číst.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	return &FileSink{dir: dir}, nil
}

// ServiceFromTopic vytáhne název služby z topicu logs/<služba>[/...].
// Název jde do cesty k souboru, proto žádné lomítko ani "..".
func ServiceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[0] != "logs" {
		return "", fmt.Errorf("unexpected log topic %q", topic)
	}
	svc := parts[1]
	if svc == "" || svc == "." || svc == ".." || strings.ContainsAny(svc, `\`+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid service name in topic %q", topic)
	}
	return svc, nil
}

// Handle zapíše jednu MQTT zprávu do souboru příslušné služby.
func (s *FileSink) Handle(topic string, payload []byte) error {
	svc, err := ServiceFromTopic(topic)
	if err != nil {
		return err
	}
	return s.Append(svc, payload)
}

// Append otevře (nebo vytvoří) soubor a připíše řádek na konec.
// Open-Write-Close pro každý zápis, aby fungovala rotace logů zvenku (logrotate).
func (s *FileSink) Append(service string, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := filepath.Join(s.dir, service+".log")
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return err
	}
	// slog řádek končí \n, cizí payload nemusí.
	if !bytes.HasSuffix(line, []byte("\n")) {
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	return nil
}
