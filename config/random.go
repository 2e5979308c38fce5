package config

import (
	"math/rand"
	"sync"
	"time"
)

var (
	r   = rand.New(rand.NewSource(time.Now().UnixNano()))
	rMu sync.Mutex
)

func RandomTrailer(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"

	rMu.Lock()
	defer rMu.Unlock()
	res := make([]byte, length)
	for i := 0; i < length; i++ {
		res[i] = charset[r.Intn(len(charset))]
	}
	return string(res)
}
