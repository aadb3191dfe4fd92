package obs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cdr/cdr/internal/platform/apperrors"
)

// ValueStore keeps the payloads of complex observations. The obs row only
// carries the key.
type ValueStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// Publisher fans lifecycle events out to interested consumers. Publish
// failures never fail the triggering operation.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

const (
	TopicObsCreated  = "obs.created"
	TopicObsUpdated  = "obs.updated"
	TopicObsVoided   = "obs.voided"
	TopicObsUnvoided = "obs.unvoided"
	TopicObsDeleted  = "obs.deleted"
)

type Service struct {
	repo      Repository
	mimeTypes MimeTypeRepository
	evaluator Evaluator
	authz     Authorizer
	values    ValueStore
	events    Publisher
}

func NewService(repo Repository, mimeTypes MimeTypeRepository) *Service {
	return &Service{
		repo:      repo,
		mimeTypes: mimeTypes,
		evaluator: NewRepoEvaluator(repo),
	}
}

func (s *Service) SetEvaluator(e Evaluator) {
	if e != nil {
		s.evaluator = e
	}
}

func (s *Service) SetAuthorizer(a Authorizer) { s.authz = a }

func (s *Service) SetValueStore(vs ValueStore) { s.values = vs }

func (s *Service) SetPublisher(p Publisher) { s.events = p }

// CreateObs records a single observation. New observations always start
// unvoided; the datetime defaults to now when the caller leaves it zero.
func (s *Service) CreateObs(ctx context.Context, o *Obs) error {
	if err := s.validateObs(ctx, o); err != nil {
		return err
	}
	if o.ObsDatetime.IsZero() {
		o.ObsDatetime = time.Now().UTC()
	}
	o.Voided = false
	o.VoidReason = nil
	o.VoidedAt = nil

	if err := s.repo.Insert(ctx, o); err != nil {
		return persistence("insert obs", err)
	}
	s.publish(ctx, TopicObsCreated, o)
	return nil
}

// CreateObsGroup records related observations under one shared group id.
// All members are written atomically; a failed member aborts the whole
// group. The first member that already carries a group id donates it,
// otherwise a fresh id is allocated.
func (s *Service) CreateObsGroup(ctx context.Context, members []*Obs) (int64, error) {
	if len(members) == 0 {
		return 0, apperrors.Validation("obs group needs at least one member")
	}
	for _, o := range members {
		if err := s.validateObs(ctx, o); err != nil {
			return 0, err
		}
		if o.ObsDatetime.IsZero() {
			o.ObsDatetime = time.Now().UTC()
		}
		o.Voided = false
		o.VoidReason = nil
		o.VoidedAt = nil
	}

	var groupID int64
	for _, o := range members {
		if o.GroupID != nil {
			groupID = *o.GroupID
			break
		}
	}
	if groupID == 0 {
		id, err := s.repo.NextGroupID(ctx)
		if err != nil {
			return 0, persistence("allocate group id", err)
		}
		groupID = id
	}
	for _, o := range members {
		gid := groupID
		o.GroupID = &gid
	}

	if err := s.repo.InsertGroup(ctx, members); err != nil {
		return 0, persistence("insert obs group", err)
	}
	for _, o := range members {
		s.publish(ctx, TopicObsCreated, o)
	}
	return groupID, nil
}

// GetObs looks an observation up by id, voided or not.
func (s *Service) GetObs(ctx context.Context, id int64) (*Obs, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, persistence("get obs", err)
	}
	return o, nil
}

// UpdateObs replaces the mutable attributes of an observation. Void state
// is untouched; it only changes through VoidObs and UnvoidObs.
func (s *Service) UpdateObs(ctx context.Context, o *Obs) (*Obs, error) {
	if o == nil || o.ID == 0 {
		return nil, apperrors.Validation("obs id is required")
	}
	if err := s.validateObs(ctx, o); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, o); err != nil {
		return nil, persistence("update obs", err)
	}
	updated, err := s.repo.GetByID(ctx, o.ID)
	if err != nil {
		return nil, persistence("reload obs", err)
	}
	s.publish(ctx, TopicObsUpdated, updated)
	return updated, nil
}

// VoidObs retires an observation from the active record, keeping the row.
// Voiding an already voided observation overwrites the reason and stamp.
func (s *Service) VoidObs(ctx context.Context, id int64, reason string) (*Obs, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.Validation("void reason is required")
	}
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, persistence("get obs", err)
	}
	now := time.Now().UTC()
	o.Voided = true
	o.VoidReason = &reason
	o.VoidedAt = &now
	if err := s.repo.UpdateVoid(ctx, o); err != nil {
		return nil, persistence("void obs", err)
	}
	s.publish(ctx, TopicObsVoided, o)
	return o, nil
}

// UnvoidObs restores a voided observation to the active record. Restoring
// an observation that was never voided is a no-op that succeeds.
func (s *Service) UnvoidObs(ctx context.Context, id int64) (*Obs, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, persistence("get obs", err)
	}
	o.Voided = false
	o.VoidReason = nil
	o.VoidedAt = nil
	if err := s.repo.UpdateVoid(ctx, o); err != nil {
		return nil, persistence("unvoid obs", err)
	}
	s.publish(ctx, TopicObsUnvoided, o)
	return o, nil
}

// DeleteObs removes the row for good. Unlike voiding there is no way back,
// so it is reserved for administrative cleanup.
func (s *Service) DeleteObs(ctx context.Context, id int64) error {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return persistence("get obs", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return persistence("delete obs", err)
	}
	if o.ValueComplex != nil && s.values != nil {
		if err := s.values.Remove(ctx, *o.ValueComplex); err != nil {
			log.Warn().Err(err).Int64("obs_id", id).Str("key", *o.ValueComplex).
				Msg("failed to remove complex value payload")
		}
	}
	s.publish(ctx, TopicObsDeleted, o)
	return nil
}

// ListPersonObs returns a person's active observations, optionally scoped
// to one concept.
func (s *Service) ListPersonObs(ctx context.Context, personID, conceptID int64) ([]*Obs, error) {
	if personID == 0 {
		return nil, apperrors.Validation("person id is required")
	}
	list, err := s.repo.Find(ctx, Filter{PersonID: personID, ConceptID: conceptID})
	if err != nil {
		return nil, persistence("list person obs", err)
	}
	return list, nil
}

// LastPersonObs returns the n most recent active observations of a concept
// for a person, most recent first.
func (s *Service) LastPersonObs(ctx context.Context, personID, conceptID int64, n int) ([]*Obs, error) {
	if personID == 0 {
		return nil, apperrors.Validation("person id is required")
	}
	if conceptID == 0 {
		return nil, apperrors.Validation("concept id is required")
	}
	if n <= 0 {
		return nil, apperrors.Validation("last must be a positive count, got %d", n)
	}
	list, err := s.repo.Find(ctx, Filter{
		PersonID:    personID,
		ConceptID:   conceptID,
		NewestFirst: true,
		Limit:       n,
	})
	if err != nil {
		return nil, persistence("list last person obs", err)
	}
	return list, nil
}

// ListObs returns active observations of a concept, optionally narrowed to
// a location and a subject-kind mask, in the requested order.
func (s *Service) ListObs(ctx context.Context, conceptID, locationID int64, sort SortKey, kinds PersonKind) ([]*Obs, error) {
	if conceptID == 0 {
		return nil, apperrors.Validation("concept id is required")
	}
	list, err := s.repo.Find(ctx, Filter{
		ConceptID:  conceptID,
		LocationID: locationID,
		Sort:       sort,
		Kinds:      kinds,
	})
	if err != nil {
		return nil, persistence("list obs", err)
	}
	return list, nil
}

// ListByAnswer returns active observations whose coded value is the given
// concept.
func (s *Service) ListByAnswer(ctx context.Context, answerConceptID int64, kinds PersonKind) ([]*Obs, error) {
	if answerConceptID == 0 {
		return nil, apperrors.Validation("answer concept id is required")
	}
	list, err := s.repo.Find(ctx, Filter{AnswerConceptID: answerConceptID, Kinds: kinds})
	if err != nil {
		return nil, persistence("list obs by answer", err)
	}
	return list, nil
}

// NumericAnswers projects the numeric values recorded for a concept,
// ordered by value or by time.
func (s *Service) NumericAnswers(ctx context.Context, conceptID int64, sortByValue bool, kinds PersonKind) ([]NumericAnswer, error) {
	if conceptID == 0 {
		return nil, apperrors.Validation("concept id is required")
	}
	answers, err := s.repo.NumericAnswers(ctx, conceptID, sortByValue, kinds)
	if err != nil {
		return nil, persistence("list numeric answers", err)
	}
	return answers, nil
}

// ListEncounterObs returns the active observations recorded in an encounter.
func (s *Service) ListEncounterObs(ctx context.Context, encounterID int64) ([]*Obs, error) {
	if encounterID == 0 {
		return nil, apperrors.Validation("encounter id is required")
	}
	list, err := s.repo.Find(ctx, Filter{EncounterID: encounterID})
	if err != nil {
		return nil, persistence("list encounter obs", err)
	}
	return list, nil
}

// ListVoided returns every voided observation, most recently voided first.
func (s *Service) ListVoided(ctx context.Context) ([]*Obs, error) {
	list, err := s.repo.FindVoided(ctx)
	if err != nil {
		return nil, persistence("list voided obs", err)
	}
	return list, nil
}

// SearchObs matches an exact observation id or a subject identifier prefix.
func (s *Service) SearchObs(ctx context.Context, q string, includeVoided bool, kinds PersonKind) ([]*Obs, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, apperrors.Validation("search query is required")
	}
	list, err := s.repo.Search(ctx, q, includeVoided, kinds)
	if err != nil {
		return nil, persistence("search obs", err)
	}
	return list, nil
}

// DistinctValues returns the distinct rendered values recorded for a
// concept across active observations.
func (s *Service) DistinctValues(ctx context.Context, conceptID int64, kinds PersonKind) ([]string, error) {
	if conceptID == 0 {
		return nil, apperrors.Validation("concept id is required")
	}
	values, err := s.repo.DistinctValues(ctx, conceptID, kinds)
	if err != nil {
		return nil, persistence("list distinct obs values", err)
	}
	return values, nil
}

// GetObsGroup returns every member sharing a group id, voided included,
// so the group structure stays visible.
func (s *Service) GetObsGroup(ctx context.Context, groupID int64) ([]*Obs, error) {
	if groupID == 0 {
		return nil, apperrors.Validation("group id is required")
	}
	list, err := s.repo.Find(ctx, Filter{GroupID: groupID, IncludeVoided: true})
	if err != nil {
		return nil, persistence("get obs group", err)
	}
	return list, nil
}

// EvaluateObs runs an aggregation with constraints over one person's
// observation history. Requires the view:person capability.
func (s *Service) EvaluateObs(ctx context.Context, personID, conceptID int64, agg Aggregation, cons Constraint) ([]*Obs, error) {
	if err := s.authorize(ctx, CapabilityViewPerson); err != nil {
		return nil, err
	}
	if personID == 0 {
		return nil, apperrors.Validation("person id is required")
	}
	if conceptID == 0 {
		return nil, apperrors.Validation("concept id is required")
	}
	return s.evaluator.Evaluate(ctx, personID, conceptID, agg, cons)
}

// PutComplexValue stores the payload of a complex observation and points
// the row at it.
func (s *Service) PutComplexValue(ctx context.Context, id int64, data []byte, mimeTypeID int64) (*Obs, error) {
	if len(data) == 0 {
		return nil, apperrors.Validation("complex value payload is required")
	}
	if s.values == nil {
		return nil, apperrors.Internal("object store is not configured", nil)
	}
	mt, err := s.mimeTypes.GetByID(ctx, mimeTypeID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Validation("unknown mime type %d", mimeTypeID)
		}
		return nil, persistence("get mime type", err)
	}
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, persistence("get obs", err)
	}

	key := complexValueKey(id)
	if err := s.values.Put(ctx, key, data, mt.Name); err != nil {
		return nil, apperrors.Internal("store complex value", err)
	}
	o.ValueComplex = &key
	o.MimeTypeID = &mt.ID
	if err := s.repo.Update(ctx, o); err != nil {
		return nil, persistence("update obs", err)
	}
	s.publish(ctx, TopicObsUpdated, o)
	return o, nil
}

// GetComplexValue loads the payload of a complex observation along with
// its mime type name.
func (s *Service) GetComplexValue(ctx context.Context, id int64) ([]byte, string, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, "", persistence("get obs", err)
	}
	if o.ValueComplex == nil {
		return nil, "", apperrors.NotFound("complex value for obs", id)
	}
	if s.values == nil {
		return nil, "", apperrors.Internal("object store is not configured", nil)
	}
	data, err := s.values.Get(ctx, *o.ValueComplex)
	if err != nil {
		return nil, "", apperrors.Internal("load complex value", err)
	}
	contentType := "application/octet-stream"
	if o.MimeTypeID != nil {
		if mt, err := s.mimeTypes.GetByID(ctx, *o.MimeTypeID); err == nil {
			contentType = mt.Name
		}
	}
	return data, contentType, nil
}

// ListMimeTypes returns the read-only mime type registry.
func (s *Service) ListMimeTypes(ctx context.Context) ([]*MimeType, error) {
	list, err := s.mimeTypes.List(ctx)
	if err != nil {
		return nil, persistence("list mime types", err)
	}
	return list, nil
}

func (s *Service) GetMimeType(ctx context.Context, id int64) (*MimeType, error) {
	mt, err := s.mimeTypes.GetByID(ctx, id)
	if err != nil {
		return nil, persistence("get mime type", err)
	}
	return mt, nil
}

func (s *Service) validateObs(ctx context.Context, o *Obs) error {
	if o == nil {
		return apperrors.Validation("obs payload is required")
	}
	if o.PersonID == 0 {
		return apperrors.Validation("person id is required")
	}
	if o.ConceptID == 0 {
		return apperrors.Validation("concept id is required")
	}
	if !o.HasValue() {
		return apperrors.Validation("obs must carry a value")
	}
	if o.ValueComplex != nil && o.MimeTypeID == nil {
		return apperrors.Validation("complex obs requires a mime type")
	}
	if o.MimeTypeID != nil {
		if _, err := s.mimeTypes.GetByID(ctx, *o.MimeTypeID); err != nil {
			if apperrors.IsNotFound(err) {
				return apperrors.Validation("unknown mime type %d", *o.MimeTypeID)
			}
			return persistence("get mime type", err)
		}
	}
	return nil
}

// authorize fails closed: without a configured Authorizer every gated
// operation is denied.
func (s *Service) authorize(ctx context.Context, capability string) error {
	if s.authz == nil {
		return apperrors.Forbidden(capability)
	}
	return s.authz.Can(ctx, capability)
}

func (s *Service) publish(ctx context.Context, topic string, o *Obs) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, topic, o); err != nil {
		log.Warn().Err(err).Str("topic", topic).Int64("obs_id", o.ID).
			Msg("event publish failed")
	}
}

func complexValueKey(id int64) string {
	return fmt.Sprintf("obs/%d", id)
}

// persistence tags raw driver failures while letting already classified
// errors through untouched.
func persistence(op string, err error) error {
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperrors.Persistence(op, err)
}
