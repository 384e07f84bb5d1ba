package engine

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newplayman/short-hunter/internal/recovery"
)

// SnapshotPersisted 抽取需要跨进程存活的去重/冷却状态
func SnapshotPersisted(rt Runtime) recovery.PersistedState {
	return recovery.PersistedState{
		LastMessageIDs:     cloneInt64Map(rt.Watermarks),
		CooldownBySymbol:   cloneTimeMap(rt.CooldownUntil),
		ReceivedAtBySymbol: cloneTimeMap(rt.ReceivedAtBySymbol),
		MessageIDBySymbol:  cloneInt64Map(rt.MessageIDBySymbol),
	}
}

// SavePersisted 持久化去重/冷却快照到JSON文件
func SavePersisted(path string, state recovery.PersistedState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	log.Debug().Str("path", path).Msg("去重快照保存成功")
	return nil
}

// LoadPersisted 读取去重/冷却快照。文件不存在返回空状态，
// 首次启动无历史是正常情形，不作为恢复阻断。
func LoadPersisted(path string) (recovery.PersistedState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyPersisted(), nil
		}
		return recovery.PersistedState{}, err
	}

	var state recovery.PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return recovery.PersistedState{}, err
	}
	if state.LastMessageIDs == nil {
		state.LastMessageIDs = map[string]int64{}
	}
	if state.CooldownBySymbol == nil {
		state.CooldownBySymbol = map[string]time.Time{}
	}
	if state.ReceivedAtBySymbol == nil {
		state.ReceivedAtBySymbol = map[string]time.Time{}
	}
	if state.MessageIDBySymbol == nil {
		state.MessageIDBySymbol = map[string]int64{}
	}
	return state, nil
}

func emptyPersisted() recovery.PersistedState {
	return recovery.PersistedState{
		LastMessageIDs:     map[string]int64{},
		CooldownBySymbol:   map[string]time.Time{},
		ReceivedAtBySymbol: map[string]time.Time{},
		MessageIDBySymbol:  map[string]int64{},
	}
}
