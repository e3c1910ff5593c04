// Package config loads the voice relay server's process configuration and
// provides file-watch-based hot-reload for it.
//
// # Loading Configuration
//
// [Load] reads a "voicerelay" config file (YAML, searched in the current
// directory, /etc/voicerelay/, $HOME/.voicerelay, and any caller-supplied
// paths), overlays environment variables prefixed VOICERELAY_, and
// validates the result against [ServerConfig]'s struct tags:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Nested fields use underscore-joined environment variable names, e.g.
// VOICERELAY_JWT_SECRET for cfg.JWT.Secret.
//
// # File Watching
//
// The [Watcher] interface abstracts configuration change detection.
// [FileWatcher] polls a file at regular intervals using SHA-256 content
// hashing, invoking a callback when changes are detected — used to
// hot-reload fields such as the JWT signing secret without a restart:
//
//	watcher := config.NewFileWatcher("voicerelay.yaml", 5*time.Second)
//	err := watcher.Watch(ctx, func(newConfig any) {
//	    // re-run config.Load and apply the fields that may change live
//	})
package config
