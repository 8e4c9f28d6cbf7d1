package pahoengine

import "runtime/debug"

// pahoModule is the module path of the MQTT client library.
const pahoModule = "github.com/eclipse/paho.mqtt.golang"

// Version returns the MQTT client library and its version as recorded in
// the binary's build information, e.g. "paho.mqtt.golang v1.5.1".
// The version is "unknown" when build information is unavailable.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return versionString(nil)
	}
	return versionString(info.Deps)
}

func versionString(deps []*debug.Module) string {
	v := "unknown"
	for _, m := range deps {
		if m.Path != pahoModule {
			continue
		}
		v = m.Version
		if m.Replace != nil && m.Replace.Version != "" {
			v = m.Replace.Version
		}
		break
	}
	return "paho.mqtt.golang " + v
}
