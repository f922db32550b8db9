package domain

// Handle 宿主页面中某个元素的不透明引用
type Handle string

// Message 聊天区中的一条消息
type Message struct {
	ID     MessageID
	Text   string // 原始大小写
	Handle Handle
}
