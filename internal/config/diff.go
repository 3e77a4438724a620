package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ComponentsChanged []ComponentDiff
	RAGChanged        bool
	VoiceAgentChanged bool
}

// ComponentDiff describes what changed for a single capability's component
// configuration between two configs.
type ComponentDiff struct {
	Capability       string
	FrameworkChanged bool
	ModelPathChanged bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	for _, cd := range []ComponentDiff{
		diffComponent("llm", old.Components.LLM, new.Components.LLM),
		diffComponent("stt", old.Components.STT, new.Components.STT),
		diffComponent("tts", old.Components.TTS, new.Components.TTS),
		diffComponent("vad", old.Components.VAD, new.Components.VAD),
		diffComponent("embeddings", old.Components.Embeddings, new.Components.Embeddings),
		diffComponent("vlm", old.Components.VLM, new.Components.VLM),
		diffComponent("diffusion", old.Components.Diffusion, new.Components.Diffusion),
	} {
		if cd.FrameworkChanged || cd.ModelPathChanged {
			d.ComponentsChanged = append(d.ComponentsChanged, cd)
		}
	}

	d.RAGChanged = old.RAG != new.RAG
	d.VoiceAgentChanged = old.VoiceAgent != new.VoiceAgent

	return d
}

// diffComponent compares two component configs under the given capability
// name. Options is intentionally excluded from equality — it's a free-form
// map a framework may mutate internally without that constituting a
// reloadable configuration change.
func diffComponent(capability string, old, new ComponentConfig) ComponentDiff {
	return ComponentDiff{
		Capability:       capability,
		FrameworkChanged: old.Framework != new.Framework,
		ModelPathChanged: old.ModelPath != new.ModelPath,
	}
}
