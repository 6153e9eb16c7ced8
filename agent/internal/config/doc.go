// Package config loads and watches the connector configuration file.
//
// Top-level types:
//   - Config{Agent}: full config tree parsed from YAML
//   - AgentConfig: username, password / password_env, scan_interval
//     (minutes), base_url, log_level, http_port, broadcast_interval, tls,
//     auth, storage, alerts
//   - AuthConfig: sensor API protection (apikey | none); Key() resolves
//     from the environment
//   - StorageConfig: memory | sqlite persistence of the latest reading
//   - AlertsConfig: alert rules and webhook targets (URLs from the environment)
//
// Load(path) reads the YAML file, applies defaults (10 minute scan interval,
// port 8080, memory storage), then validates required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify on the parent directory and calls
// onChange with each successfully re-parsed Config. RequiresRebuild tells
// the caller whether the change needs a fresh polling coordinator or can be
// applied live.
package config
