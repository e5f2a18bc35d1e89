package storage

import (
	"chatrelay/backend/internal/models"
	"fmt"

	"gorm.io/gorm"
)

// NotifyChannel is the Postgres channel the message trigger notifies on.
const NotifyChannel = "chat_messages"

// notifyTriggerSQL publishes the id of each inserted message; subscribers load the row.
// Sending only the id keeps payloads far below the 8000 byte NOTIFY limit.
var notifyTriggerSQL = []string{
	fmt.Sprintf(`CREATE OR REPLACE FUNCTION notify_chat_message() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('%s', NEW.id);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql`, NotifyChannel),
	`DROP TRIGGER IF EXISTS chat_messages_notify ON chat_messages`,
	`CREATE TRIGGER chat_messages_notify AFTER INSERT ON chat_messages
    FOR EACH ROW EXECUTE FUNCTION notify_chat_message()`,
}

// Migrate creates the tables and, when withNotify is set, the insert trigger
// that feeds the Postgres change feed.
func Migrate(db *gorm.DB, withNotify bool) error {
	if err := db.AutoMigrate(&models.Conversation{}, &models.ChatMessage{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if !withNotify {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for _, stmt := range notifyTriggerSQL {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("install notify trigger: %w", err)
			}
		}
		return nil
	})
}
