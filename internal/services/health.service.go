package services

// HealthService reports process liveness. Dependency checks live on the
// metrics side; a probe that touches pg or redis can hang the probe itself.
type HealthService struct{}

func NewHealthService() *HealthService {
	return &HealthService{}
}

func (s *HealthService) Get() error {
	return nil
}
