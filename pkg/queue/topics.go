package queue

// 主题命名规范：sv.<域>.<动作>，尽量稳定且向后兼容.
const (
	// TopicFileChanged 文件记录发生变更（insert/update/delete/replace）.
	TopicFileChanged = "sv.file.changed"
)
