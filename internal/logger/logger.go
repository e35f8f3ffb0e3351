package logger

import (
	"github.com/sirupsen/logrus"
)

var Log = logrus.New()

// Init настраивает общий логгер. Сам *logrus.Logger не пересоздаётся,
// поэтому записи из Component, созданные раньше, пишут с новыми настройками.
func Init(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	// JSON для production, text включается отдельно через SetTextFormatter
	Log.SetFormatter(&logrus.JSONFormatter{})
}

// SetTextFormatter устанавливает текстовый формат логов (для development).
func SetTextFormatter() {
	if Log != nil {
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}

// Component возвращает запись с полем component.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}
