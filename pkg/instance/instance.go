package instance

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

var (
	once sync.Once
	id   string
)

// GetID identifies this process in logs and lock owner tokens. It is
// BAZAAR_INSTANCE_ID when set, otherwise host-pid so two workers on one host
// stay distinguishable. The value is fixed for the life of the process.
func GetID() string {
	once.Do(func() {
		id = resolve(os.Getenv("BAZAAR_INSTANCE_ID"), os.Hostname, os.Getpid())
	})
	return id
}

func resolve(override string, hostname func() (string, error), pid int) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	host, err := hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "bazaar"
	}
	return fmt.Sprintf("%s-%d", host, pid)
}
