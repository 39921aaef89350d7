//go:build !cuda

package cuda

import (
	"fmt"

	"github.com/samcharles93/accelq/internal/accel"
)

// Available reports whether this build links the CUDA runtime.
const Available = false

func New() (accel.Driver, error) {
	return nil, fmt.Errorf("cuda driver is not available in this build")
}
