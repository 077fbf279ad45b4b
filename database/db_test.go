package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferDriverFromDSN(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/chat":     "postgres",
		"postgresql://localhost/chat":            "postgres",
		"mysql://u:p@tcp(localhost:3306)/chat":   "mysql",
		"u:p@tcp(localhost:3306)/chat?parseTime": "mysql",
		"sqlite://data/chat.db":                  "sqlite",
		"chatbot.db":                             "sqlite",
		"file.sqlite":                            "sqlite",
		"host=localhost user=chat":               "",
	}
	for dsn, want := range cases {
		assert.Equal(t, want, inferDriverFromDSN(dsn), dsn)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := openDatabase("oracle", "whatever")
	assert.ErrorContains(t, err, "unsupported driver")
}
