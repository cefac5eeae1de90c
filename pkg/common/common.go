package common

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	ENABLED  = "enabled"
	DISABLED = "disabled"
)

var snowflakeNode *snowflake.Node

func init() {
	nid, err := rand.Int(rand.Reader, big.NewInt(1023))
	if err != nil {
		nid = big.NewInt(time.Now().Unix() % 1023)
	}
	snowflakeNode, err = snowflake.NewNode(nid.Int64())
	if err != nil {
		panic(err)
	}
}

// UUIDint64 returns a snowflake id.
func UUIDint64() int64 {
	return snowflakeNode.Generate().Int64()
}

// UUID returns a snowflake id in base58 string form.
func UUID() string {
	return snowflakeNode.Generate().Base58()
}

// IsEmptyOrNA reports whether the value carries no usable content.
func IsEmptyOrNA(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, "n/a")
}

// TruncateString cuts s to at most n bytes, appending an ellipsis marker.
func TruncateString(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
