package engine

import (
	"fmt"
	"hash/fnv"

	"github.com/newplayman/short-hunter/internal/trigger"
)

// kindTag 客户端订单ID中的触发类型短码
var kindTag = map[trigger.Kind]string{
	trigger.KindFirstEntry:  "fe",
	trigger.KindSecondEntry: "se",
	trigger.KindTakeProfit:  "tp",
	trigger.KindBreakeven:   "be",
}

// ClientOrderID 由(触发类型, 消息ID, symbol哈希)派生确定性客户端订单号。
// 同一触发在重启前后生成同一ID，交易所按newClientOrderId幂等去重，
// 重复提交不会产生第二张单。
func ClientOrderID(kind trigger.Kind, messageID int64, symbol string) string {
	tag, ok := kindTag[kind]
	if !ok {
		tag = "xx"
	}
	return taggedClientID(tag, messageID, symbol)
}

// ExitClientOrderID 风控市价离场、停滞强平等非触发循环订单的
// 确定性客户端订单号。seq取信号消息ID或被停滞订单的交易所ID，
// 同一事件重试或重启后派生同一号。
func ExitClientOrderID(tag string, seq int64, symbol string) string {
	return taggedClientID(tag, seq, symbol)
}

func taggedClientID(tag string, seq int64, symbol string) string {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return fmt.Sprintf("hunter-%s-%d-%08x", tag, seq, h.Sum32())
}
