package interfaces

import (
	"fmt"

	"github.com/vulpemventures/vault-cosigner/internal/interfaces/simulator"
)

// Service interface defines the methods that every kind of interface, whether
// TCP, gRPC, or whatever must be compliant with.
type Service interface {
	Start() error
	Stop()
}

type ServiceManager struct {
	Service
}

func NewSimulatorServiceManager(
	config simulator.ServiceConfig,
) (*ServiceManager, error) {
	svc, err := simulator.NewService(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initalize simulator service: %s", err)
	}
	return &ServiceManager{svc}, nil
}
