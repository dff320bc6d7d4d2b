// Package extension provides the Forge extension for mounting Rewind.
//
// The extension integrates Rewind into the Forge application framework by:
//   - Building the engine from a Config loaded with the application
//   - Mounting admin API routes with OpenAPI metadata under a configurable prefix
//   - Serving batch ingestion and the websocket live tail as a plain handler
//   - Starting the idle-session reaper on application start
//   - Stopping background work and live viewers on shutdown
//
// Usage:
//
//	ext := extension.New(
//	    extension.WithStore(badgerStore),
//	    extension.WithPrefix("/rewind"),
//	)
//	ext.RegisterRoutes(app.Router(), app.Logger())
package extension
