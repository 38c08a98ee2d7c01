package db

import (
	"horse.fit/eventmerge/internal/events"
)

func eventFromStored(e events.StoredEvent, cityKey string) Event {
	row := Event{
		EventID:              e.ID,
		Title:                e.Title,
		StartDate:            e.StartDate.String(),
		StartTime:            e.StartTime,
		EndTime:              e.EndTime,
		City:                 e.City,
		CityKey:              cityKey,
		Province:             e.Province,
		VenueName:            e.VenueName,
		Address:              e.Address,
		Description:          e.Description,
		Summary:              e.Summary,
		CategorySlugs:        append([]string(nil), e.CategorySlugs...),
		ImageURL:             e.ImageURL,
		OrganizerName:        e.OrganizerName,
		ContactEmail:         e.ContactEmail,
		ContactPhone:         e.ContactPhone,
		PriceInfo:            e.PriceInfo,
		RegistrationURL:      e.RegistrationURL,
		RequiresRegistration: e.RequiresRegistration,
		ExternalURL:          e.ExternalURL,
		ContributingSources:  append([]string(nil), e.ContributingSources...),
		SourceExternalIDs:    copyStringMap(e.SourceExternalIDs),
		QualityScore:         e.QualityScore,
		Revision:             e.Revision,
		LastMergedAt:         e.LastMergedAt,
	}
	if !e.EndDate.IsZero() {
		end := e.EndDate.String()
		row.EndDate = &end
	}
	if e.Coordinates != nil {
		lat, lon := e.Coordinates.Latitude, e.Coordinates.Longitude
		row.Latitude = &lat
		row.Longitude = &lon
	}
	if e.IsFree != nil {
		free := *e.IsFree
		row.IsFree = &free
	}
	if len(e.FieldSources) > 0 {
		row.FieldSources = make(map[string]string, len(e.FieldSources))
		for field, source := range e.FieldSources {
			row.FieldSources[string(field)] = source
		}
	}
	return row
}

func (row Event) toStored() events.StoredEvent {
	e := events.StoredEvent{
		ID:                  row.EventID,
		ContributingSources: append([]string(nil), row.ContributingSources...),
		SourceExternalIDs:   copyStringMap(row.SourceExternalIDs),
		QualityScore:        row.QualityScore,
		LastMergedAt:        row.LastMergedAt.UTC(),
		Revision:            row.Revision,
		Details: events.Details{
			Title:                row.Title,
			StartTime:            row.StartTime,
			EndTime:              row.EndTime,
			City:                 row.City,
			Province:             row.Province,
			VenueName:            row.VenueName,
			Address:              row.Address,
			Description:          row.Description,
			Summary:              row.Summary,
			CategorySlugs:        events.NormalizeSlugs(row.CategorySlugs),
			ImageURL:             row.ImageURL,
			OrganizerName:        row.OrganizerName,
			ContactEmail:         row.ContactEmail,
			ContactPhone:         row.ContactPhone,
			PriceInfo:            row.PriceInfo,
			RegistrationURL:      row.RegistrationURL,
			RequiresRegistration: row.RequiresRegistration,
			ExternalURL:          row.ExternalURL,
		},
	}
	// Dates are written by eventFromStored, so a parse failure leaves the zero date.
	e.StartDate, _ = events.ParseDate(row.StartDate)
	if row.EndDate != nil {
		e.EndDate, _ = events.ParseDate(*row.EndDate)
	}
	if row.Latitude != nil && row.Longitude != nil {
		e.Coordinates = &events.Coordinates{Latitude: *row.Latitude, Longitude: *row.Longitude}
	}
	if row.IsFree != nil {
		free := *row.IsFree
		e.IsFree = &free
	}
	if len(row.FieldSources) > 0 {
		e.FieldSources = make(map[events.Field]string, len(row.FieldSources))
		for field, source := range row.FieldSources {
			e.FieldSources[events.Field(field)] = source
		}
	}
	return e
}

func fieldNames(fields []events.Field) []string {
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, string(f))
	}
	return out
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
