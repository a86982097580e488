// Package provider implements the plugin contract and the provider registry.
//
// A provider is a named, versioned capability unit. Beyond the mandatory
// Name/Version pair everything is optional and declared through separate
// capability interfaces (MessageHandler, SetupHook, ConnectHook,
// DisconnectHook, StopHook). Capabilities are resolved once at registration
// time, never duck-checked per call.
//
// The registry owns every provider for the process lifetime. Lifecycle
// fan-outs (setup, connect, disconnect, stop) walk providers in
// registration order and isolate each provider's failure: an error or
// panic inside one provider is logged and never interrupts the others.
package provider
