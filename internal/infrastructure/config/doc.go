// Package config handles process-level configuration for Status Core.
//
// Configuration is loaded from a YAML file with three layers of
// precedence: hardcoded defaults, file values, then STATUSCORE_*
// environment variable overrides. The loaded configuration is validated
// before use.
//
// This package covers infrastructure concerns only (database, MQTT,
// API, InfluxDB, logging). The controller's rules file (tags, outputs,
// entity aliases and domain defaults) has its own loader and schema in
// the controller package; config only carries its path.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
