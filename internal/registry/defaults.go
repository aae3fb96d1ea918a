package registry

// defaultFields is the built-in canonical field list. Synonyms are written
// in their natural form; the matcher normalizes them.
var defaultFields = []FieldDef{
	{ID: "name", Label: "Nom", Type: TypeText, Synonyms: []string{"nom", "nom complet", "full name", "contact", "prenom nom", "dirigeant"}},
	{ID: "company", Label: "Entreprise", Type: TypeText, Synonyms: []string{"entreprise", "societe", "raison sociale", "denomination", "denomination sociale", "organisation", "company name"}},
	{ID: "email", Label: "Email", Type: TypeEmail, Synonyms: []string{"e-mail", "mail", "courriel", "adresse email", "email address"}},
	{ID: "phone", Label: "Téléphone", Type: TypePhone, Synonyms: []string{"telephone", "tel", "portable", "mobile", "phone number"}},
	{ID: "address", Label: "Adresse", Type: TypeText, Synonyms: []string{"adresse", "rue", "street", "adresse postale"}},
	{ID: "city", Label: "Ville", Type: TypeText, Synonyms: []string{"ville", "commune", "localite", "town"}},
	{ID: "postal_code", Label: "Code postal", Type: TypePostalCode, Synonyms: []string{"code postal", "cp", "zip", "zip code", "postcode"}},
	{ID: "siret", Label: "SIRET", Type: TypeSIRET, Synonyms: []string{"numero siret", "n siret", "siret etablissement"}},
	{ID: "website", Label: "Site web", Type: TypeURL, Synonyms: []string{"site web", "site internet", "site", "url", "web"}},
	{ID: "job_title", Label: "Poste", Type: TypeText, Synonyms: []string{"poste", "fonction", "titre", "job", "title", "role"}},
	{ID: "notes", Label: "Notes", Type: TypeText, Synonyms: []string{"note", "commentaire", "commentaires", "remarques", "comments"}},
}

// Default returns a Registry built from the built-in field list.
func Default() *Registry {
	r, err := New(defaultFields)
	if err != nil {
		panic(err)
	}
	return r
}
