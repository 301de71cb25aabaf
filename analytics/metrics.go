package analytics

import "agilitytrack/core"

// BridgeHook fans one event source out to multiple hooks.
type BridgeHook struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *BridgeHook { return &BridgeHook{hooks: hooks} }

func (b *BridgeHook) OnEvent(e core.Event) {
	for _, h := range b.hooks {
		h.OnEvent(e)
	}
}

// Add appends a hook. Not safe to call while events are flowing.
func (b *BridgeHook) Add(h Hook) { b.hooks = append(b.hooks, h) }
