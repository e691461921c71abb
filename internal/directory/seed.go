package directory

import (
	"context"
	"errors"

	"github.com/pliu/cipherchat/internal/apperr"
	"github.com/pliu/cipherchat/internal/models"
)

// DemoIdentities are created by Seed.
var DemoIdentities = []models.Identity{
	{DisplayName: "John Doe", ExternalID: "s12345678", Email: "john.doe@student.edu",
		Department: "Computer Science", Year: "3rd Year", Phone: "+1 (555) 123-4567"},
	{DisplayName: "Jane Smith", ExternalID: "s23456789", Email: "jane.smith@student.edu",
		Department: "Information Systems", Year: "2nd Year"},
	{DisplayName: "Mike Johnson", ExternalID: "s34567890", Email: "mike.johnson@student.edu",
		Department: "Computer Science", Year: "4th Year"},
	{DisplayName: "Sarah Wilson", ExternalID: "s45678901", Email: "sarah.wilson@student.edu",
		Department: "Data Science", Year: "3rd Year"},
}

// Seed registers DemoIdentities with password, skipping any whose email is
// already registered. It returns the identities it created.
func (d *Directory) Seed(ctx context.Context, password string) ([]models.Identity, error) {
	var created []models.Identity
	for _, demo := range DemoIdentities {
		u := demo
		got, err := d.register(ctx, &u, password)
		if errors.Is(err, apperr.ErrDuplicateEmail) {
			d.logger.Debug("seed identity exists", "email", demo.Email)
			continue
		}
		if err != nil {
			return created, err
		}
		created = append(created, *got)
	}
	return created, nil
}
