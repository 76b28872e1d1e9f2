// Package config provides configuration management for fwdctl.
//
// Configuration is a single YAML file layered over built-in defaults. The
// file is located, in order of precedence, by the --config flag, the
// FWDCTL_CONFIG environment variable, or /etc/fwdctl/config.yaml.
//
// # Configuration Structure
//
//	forwardMode: socat          # none, haproxy or socat
//	settings:
//	  commandTimeout: 10s
//	  settleTimeout: 200ms
//	  settleInterval: 50ms
//	  processScanner: ps        # ps or native
//	  socatBinary: socat
//	  haproxy:
//	    configPath: /etc/haproxy/haproxy.cfg
//	    stagedPath: /etc/haproxy/haproxy.cfg.staged
//	    statsSocket: /run/haproxy/admin.sock
//	  updateRepository: owner/fwdctl
//	tunnels:
//	  - name: edge
//	    remoteForwardHost: 10.30.30.2
//	    forwards:
//	      - 443              # local 443 -> remote 443
//	      - "8080:80"        # local 8080 -> remote 80
//	      - localPort: 2222
//	        remotePort: 22
//
// Local ports are unique across all tunnels. The haproxy configuration file
// named by configPath is owned by fwdctl and rewritten on every reload.
//
// # Persistence
//
// FileStore implements the rule and mode stores used by the managers
// package. It re-reads the file on every query and writes it atomically, so
// a forward mode change or a declared port survives restarts and is visible
// to every other fwdctl process on the host.
package config
