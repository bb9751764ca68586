package webserv

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"sync"
	"text/template"
	"time"
)

// Logger logs information generated in the server's runtime.
type Logger struct {
	w *Webserv

	template     *template.Template
	templateOnce sync.Once
	bufferPool   *sync.Pool
	mutex        sync.Mutex

	// Output is the destination the log lines are written to.
	//
	// Default value: `os.Stdout`
	Output io.Writer
}

// newLogger returns a new instance of the `Logger` with the w.
func newLogger(w *Webserv) *Logger {
	return &Logger{
		w: w,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 256))
			},
		},
		Output: os.Stdout,
	}
}

// DEBUG logs the message at the DEBUG level with the optional extras.
func (l *Logger) DEBUG(message string, extras ...map[string]interface{}) {
	l.log("DEBUG", message, extras...)
}

// INFO logs the message at the INFO level with the optional extras.
func (l *Logger) INFO(message string, extras ...map[string]interface{}) {
	l.log("INFO", message, extras...)
}

// WARN logs the message at the WARN level with the optional extras.
func (l *Logger) WARN(message string, extras ...map[string]interface{}) {
	l.log("WARN", message, extras...)
}

// ERROR logs the message at the ERROR level with the optional extras.
func (l *Logger) ERROR(message string, extras ...map[string]interface{}) {
	l.log("ERROR", message, extras...)
}

// log renders one line at the level with the message and extras.
func (l *Logger) log(level, message string, extras ...map[string]interface{}) {
	if !l.w.LoggerEnabled {
		return
	}

	l.templateOnce.Do(func() {
		l.template = template.Must(
			template.New("logger").Parse(l.w.LoggerFormat),
		)
	})

	data := map[string]interface{}{
		"AppName": l.w.AppName,
		"Time":    time.Now().UTC().Format(time.RFC3339),
		"Level":   level,
		"Message": message,
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	buf := l.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		l.bufferPool.Put(buf)
	}()

	if err := l.template.Execute(buf, data); err != nil {
		return
	}

	if len(extras) > 0 && buf.Len() > 0 &&
		buf.Bytes()[buf.Len()-1] == '}' {
		if b, err := json.Marshal(extras[0]); err == nil && len(b) > 2 {
			buf.Truncate(buf.Len() - 1)
			buf.WriteByte(',')
			buf.Write(b[1:])
		}
	}

	buf.WriteByte('\n')
	l.Output.Write(buf.Bytes())
}
