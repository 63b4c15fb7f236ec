package threads

import (
	"github.com/studyloop/drift/internal/store"
)

// Comment is one node of a post's comment tree. Replies exist only on
// top-level comments; reply records carry no Replies field of their own,
// which bounds nesting to a single level structurally.
type Comment struct {
	ID              string
	UserID          string
	Username        string
	UserImage       string
	Text            string
	Likes           int64
	LikedBy         []string
	TimestampMillis int64
	Edited          bool
	EditedAtMillis  int64
	ReplyCount      int64
	Replies         []Comment
}

func commentFromFields(id string, fields store.Fields) Comment {
	comment := Comment{ID: id}
	if value, ok := fields["userId"].(string); ok {
		comment.UserID = value
	}
	if value, ok := fields["username"].(string); ok {
		comment.Username = value
	}
	if value, ok := fields["userImage"].(string); ok {
		comment.UserImage = value
	}
	if value, ok := fields["text"].(string); ok {
		comment.Text = value
	}
	comment.Likes = int64Field(fields["likes"])
	comment.TimestampMillis = int64Field(fields["timestamp"])
	comment.ReplyCount = int64Field(fields["replyCount"])
	if value, ok := fields["edited"].(bool); ok {
		comment.Edited = value
	}
	comment.EditedAtMillis = int64Field(fields["editedAt"])
	if raw, ok := fields["likedBy"].([]any); ok {
		likedBy := make([]string, 0, len(raw))
		for _, element := range raw {
			if userID, ok := element.(string); ok {
				likedBy = append(likedBy, userID)
			}
		}
		comment.LikedBy = likedBy
	}
	return comment
}

func int64Field(raw any) int64 {
	switch value := raw.(type) {
	case int64:
		return value
	case int:
		return int64(value)
	case float64:
		return int64(value)
	default:
		return 0
	}
}
