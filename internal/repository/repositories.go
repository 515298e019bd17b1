package repository

import "database/sql"

// Repositories groups the stores the services are built from.
type Repositories struct {
	Campaigns     CampaignRepositoryInterface
	Enrollments   EnrollmentRepositoryInterface
	Conversations ConversationRepositoryInterface
	Messages      MessageRepositoryInterface
	Profiles      ProfileRepositoryInterface
}

func NewPostgres(db *sql.DB) Repositories {
	return Repositories{
		Campaigns:     &CampaignRepository{DB: db},
		Enrollments:   &EnrollmentRepository{DB: db},
		Conversations: &ConversationRepository{DB: db},
		Messages:      &MessageRepository{DB: db},
		Profiles:      &ProfileRepository{DB: db},
	}
}
