// Package cli implements the fleetpage command-line interface.
//
// Commands:
//
//	fleetpage run            - Poll every host forever, publishing a page per host
//	fleetpage once           - Run a single cycle and exit (non-zero if a host failed)
//	fleetpage render <host>  - Fetch one host and print its page without publishing
//	fleetpage check          - Validate the config, optionally test connectivity
//	fleetpage init           - Create fleetpage.yaml
//	fleetpage host add       - Append a host to the config
//	fleetpage version        - Print build information
package cli
