package configuration

import (
	"fmt"

	commonconfig "github.com/edgerun/galileo-experiments/internal/common/config"
)

func ValidateExperimentsConfiguration(config ExperimentsConfiguration) error {
	if err := commonconfig.Validate(config); err != nil {
		return err
	}
	if config.Provisioning.IpResolutionTimeout < config.Provisioning.IpResolutionBackoff {
		return fmt.Errorf(
			"ipResolutionTimeout (%s) must not be shorter than ipResolutionBackoff (%s)",
			config.Provisioning.IpResolutionTimeout,
			config.Provisioning.IpResolutionBackoff,
		)
	}
	return nil
}
