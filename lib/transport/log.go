package transport

import (
	"fmt"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// hashPrefix renders the first bytes of an identity hash for log output.
// Full hashes are noisy and unnecessary for correlating log lines.
func hashPrefix(h common.Hash) string {
	return fmt.Sprintf("%x...", h[:8])
}
